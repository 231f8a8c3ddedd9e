package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestWorker_StepPublishes(t *testing.T) {
	p := New(Config[testFrame, int]{})
	engine := EngineFunc[testFrame, int](func(_ context.Context, f testFrame, _ []Point) (int, error) {
		return f.id * 10, nil
	})
	w := NewWorker(p, engine, WorkerConfig[int]{})

	if w.Step(context.Background()) {
		t.Error("Step() on empty mailbox reported work")
	}

	p.Offer(testFrame{id: 4})
	if !w.Step(context.Background()) {
		t.Fatal("Step() did not take the pending frame")
	}

	if r, ok := p.Peek(); !ok || r != 40 {
		t.Errorf("Peek() = (%d, %v), want (40, true)", r, ok)
	}
	if s := w.Stats(); s.Inferences != 1 || s.Failures != 0 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestWorker_FailureKeepsLastResult(t *testing.T) {
	p := New(Config[testFrame, string]{})
	engine := EngineFunc[testFrame, string](func(_ context.Context, f testFrame, _ []Point) (string, error) {
		if f.id == 3 {
			return "", errors.New("model exploded")
		}
		return "good", nil
	})
	w := NewWorker(p, engine, WorkerConfig[string]{})
	ctx := context.Background()

	p.Offer(testFrame{id: 1})
	w.Step(ctx)

	p.Offer(testFrame{id: 3})
	w.Step(ctx)

	if r, ok := p.Peek(); !ok || r != "good" {
		t.Errorf("Peek() after failure = (%q, %v), want (good, true)", r, ok)
	}

	stats := w.Stats()
	if stats.Failures != 1 {
		t.Errorf("Failures = %d, want 1", stats.Failures)
	}
	if stats.LastError == "" {
		t.Error("LastError should be set after a failure")
	}

	p.Offer(testFrame{id: 5})
	if !w.Step(ctx) {
		t.Error("worker did not accept a frame after a failure")
	}
	if s := w.Stats(); s.Inferences != 2 {
		t.Errorf("Inferences = %d, want 2", s.Inferences)
	}
}

func TestWorker_RecoversEnginePanic(t *testing.T) {
	p := New(Config[testFrame, int]{})
	p.Publish(1)

	engine := EngineFunc[testFrame, int](func(context.Context, testFrame, []Point) (int, error) {
		panic("index out of range")
	})
	w := NewWorker(p, engine, WorkerConfig[int]{})

	p.Offer(testFrame{id: 1})
	w.Step(context.Background())

	if r, _ := p.Peek(); r != 1 {
		t.Errorf("Peek() = %d after panic, want 1", r)
	}
	if w.Stats().Failures != 1 {
		t.Error("panic not counted as a failure")
	}
}

func TestWorker_ReleasesEveryFrame(t *testing.T) {
	var released atomic.Int32
	p := New(Config[testFrame, int]{
		ReleaseFrame: func(testFrame) { released.Add(1) },
	})

	calls := 0
	engine := EngineFunc[testFrame, int](func(context.Context, testFrame, []Point) (int, error) {
		calls++
		if calls%2 == 0 {
			return 0, errors.New("odd failure")
		}
		return calls, nil
	})
	w := NewWorker(p, engine, WorkerConfig[int]{})

	for i := 0; i < 6; i++ {
		p.Offer(testFrame{id: i})
		w.Step(context.Background())
	}
	if got := released.Load(); got != 6 {
		t.Errorf("released = %d, want 6", got)
	}
}

func TestWorker_SnapshotIsolatedFromConcurrentAppend(t *testing.T) {
	p := New(Config[testFrame, int]{})
	p.AppendPoint(image.Pt(10, 20), Foreground)
	p.AppendPoint(image.Pt(5, 5), Background)

	var seen []Point
	engine := EngineFunc[testFrame, int](func(_ context.Context, _ testFrame, pts []Point) (int, error) {
		// The input collaborator clicks while inference is running.
		p.AppendPoint(image.Pt(99, 99), Foreground)
		seen = pts
		return len(pts), nil
	})
	w := NewWorker(p, engine, WorkerConfig[int]{})

	p.Offer(testFrame{id: 1})
	w.Step(context.Background())

	want := []Point{
		{Pos: image.Pt(10, 20), Label: Foreground},
		{Pos: image.Pt(5, 5), Label: Background},
	}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("engine saw %v, want %v", seen, want)
	}
	if p.PointCount() != 3 {
		t.Errorf("PointCount() = %d, want 3", p.PointCount())
	}
}

func TestWorker_RequirePoints(t *testing.T) {
	p := New(Config[testFrame, int]{})
	var calls int
	engine := EngineFunc[testFrame, int](func(context.Context, testFrame, []Point) (int, error) {
		calls++
		return calls, nil
	})
	w := NewWorker(p, engine, WorkerConfig[int]{RequirePoints: true})

	p.Offer(testFrame{id: 1})
	w.Step(context.Background())
	if calls != 0 {
		t.Errorf("engine called %d times without points", calls)
	}
	if w.Stats().Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", w.Stats().Skipped)
	}

	p.AppendPoint(image.Pt(1, 1), Foreground)
	p.Offer(testFrame{id: 2})
	w.Step(context.Background())
	if calls != 1 {
		t.Errorf("engine called %d times with points, want 1", calls)
	}
}

func TestWorker_EngineWithoutPointsSkips(t *testing.T) {
	p := New(Config[testFrame, int]{})
	engine := EngineFunc[testFrame, int](func(_ context.Context, _ testFrame, pts []Point) (int, error) {
		if len(pts) == 0 {
			return 0, fmt.Errorf("segment: %w", ErrNoPoints)
		}
		return len(pts), nil
	})
	w := NewWorker(p, engine, WorkerConfig[int]{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p.Offer(testFrame{id: i})
		w.Step(ctx)
	}

	s := w.Stats()
	if s.Failures != 0 || s.LastError != "" {
		t.Errorf("Failures = %d, LastError = %q, want none", s.Failures, s.LastError)
	}
	if s.Skipped != 3 {
		t.Errorf("Skipped = %d, want 3", s.Skipped)
	}
	if _, ok := p.Peek(); ok {
		t.Error("nothing should be published without points")
	}
}

func TestWorker_Paused(t *testing.T) {
	p := New(Config[testFrame, int]{})
	var calls int
	engine := EngineFunc[testFrame, int](func(context.Context, testFrame, []Point) (int, error) {
		calls++
		return calls, nil
	})
	w := NewWorker(p, engine, WorkerConfig[int]{})
	w.SetPaused(true)

	p.Offer(testFrame{id: 1})
	if !w.Step(context.Background()) {
		t.Error("paused worker should still drain the mailbox")
	}
	if calls != 0 {
		t.Error("paused worker ran inference")
	}
	if _, ok := p.Take(); ok {
		t.Error("frame left pending while paused")
	}

	w.SetPaused(false)
	p.Offer(testFrame{id: 2})
	w.Step(context.Background())
	if calls != 1 {
		t.Errorf("calls = %d after resume, want 1", calls)
	}
}

func TestWorker_OnResultBeforePublish(t *testing.T) {
	p := New(Config[testFrame, int]{})
	var observed []int
	var visibleAtObserve bool

	engine := EngineFunc[testFrame, int](func(_ context.Context, f testFrame, _ []Point) (int, error) {
		return f.id, nil
	})
	w := NewWorker(p, engine, WorkerConfig[int]{
		OnResult: func(r int) {
			observed = append(observed, r)
			_, visibleAtObserve = p.Peek()
		},
	})

	p.Offer(testFrame{id: 8})
	w.Step(context.Background())

	if !reflect.DeepEqual(observed, []int{8}) {
		t.Errorf("observed = %v, want [8]", observed)
	}
	if visibleAtObserve {
		t.Error("result was visible to Peek before OnResult returned")
	}
}

func TestWorker_StartStop(t *testing.T) {
	p := New(Config[testFrame, int]{})
	engine := EngineFunc[testFrame, int](func(_ context.Context, f testFrame, _ []Point) (int, error) {
		return f.id, nil
	})
	w := NewWorker(p, engine, WorkerConfig[int]{IdleSleep: time.Millisecond})

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := w.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}

	p.Offer(testFrame{id: 42})
	waitFor(t, time.Second, func() bool {
		r, ok := p.Peek()
		return ok && r == 42
	})

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	select {
	case <-w.Done():
	default:
		t.Error("Done() not closed after Stop")
	}
	if w.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", w.State())
	}
}

func TestWorker_StopWithoutStart(t *testing.T) {
	w := NewWorker(New(Config[testFrame, int]{}), EngineFunc[testFrame, int](nil), WorkerConfig[int]{})
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() on unstarted worker = %v", err)
	}
}

func TestWorker_StopTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timeout test in short mode")
	}

	p := New(Config[testFrame, int]{})
	release := make(chan struct{})
	defer close(release)

	entered := make(chan struct{})
	engine := EngineFunc[testFrame, int](func(context.Context, testFrame, []Point) (int, error) {
		// Ignores ctx to model an inference call that cannot be interrupted.
		close(entered)
		<-release
		return 0, nil
	})
	w := NewWorker(p, engine, WorkerConfig[int]{
		IdleSleep:   time.Millisecond,
		StopTimeout: 50 * time.Millisecond,
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	p.Offer(testFrame{id: 1})
	<-entered

	start := time.Now()
	err := w.Stop()
	if !errors.Is(err, ErrShutdownTimeout) {
		t.Fatalf("Stop() error = %v, want ErrShutdownTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop() blocked for %s", elapsed)
	}
	if w.State() != StateInferring {
		t.Errorf("State() = %v, want inferring", w.State())
	}
}

func TestWorker_LateResultAfterStopTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timeout test in short mode")
	}

	var released, observed atomic.Int32
	p := New(Config[testFrame, int]{
		ReleaseResult: func(int) { released.Add(1) },
	})
	release := make(chan struct{})
	entered := make(chan struct{})
	engine := EngineFunc[testFrame, int](func(context.Context, testFrame, []Point) (int, error) {
		close(entered)
		<-release
		return 7, nil
	})
	w := NewWorker(p, engine, WorkerConfig[int]{
		IdleSleep:   time.Millisecond,
		StopTimeout: 20 * time.Millisecond,
		OnResult:    func(int) { observed.Add(1) },
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	p.Offer(testFrame{id: 1})
	<-entered

	if err := w.Stop(); !errors.Is(err, ErrShutdownTimeout) {
		t.Fatalf("Stop() error = %v, want ErrShutdownTimeout", err)
	}
	p.Reset()

	close(release)
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after the engine returned")
	}

	if r, ok := p.Peek(); ok {
		t.Errorf("Peek() = (%d, true) after shutdown, want empty", r)
	}
	if got := released.Load(); got != 1 {
		t.Errorf("released = %d, want 1", got)
	}
	if got := observed.Load(); got != 0 {
		t.Errorf("OnResult calls = %d, want 0", got)
	}
	if s := p.Stats(); s.Published != 0 {
		t.Errorf("Published = %d, want 0", s.Published)
	}
}

func TestWorker_StopCancelsContext(t *testing.T) {
	p := New(Config[testFrame, int]{})
	entered := make(chan struct{})
	engine := EngineFunc[testFrame, int](func(ctx context.Context, _ testFrame, _ []Point) (int, error) {
		close(entered)
		<-ctx.Done()
		return 0, ctx.Err()
	})
	w := NewWorker(p, engine, WorkerConfig[int]{IdleSleep: time.Millisecond})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	p.Offer(testFrame{id: 1})
	<-entered

	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
