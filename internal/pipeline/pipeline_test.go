package pipeline

import (
	"context"
	"image"
	"reflect"
	"sync"
	"testing"
	"time"
)

type testFrame struct {
	id int
}

func TestPipeline_OfferReplacesPending(t *testing.T) {
	p := New(Config[testFrame, int]{})

	p.Offer(testFrame{id: 1})
	p.Offer(testFrame{id: 2})

	f, ok := p.Take()
	if !ok {
		t.Fatal("Take() returned empty after two offers")
	}
	if f.id != 2 {
		t.Errorf("Take() = frame %d, want 2", f.id)
	}

	if _, ok := p.Take(); ok {
		t.Error("second Take() should be empty")
	}

	stats := p.Stats()
	if stats.Offered != 2 || stats.Dropped != 1 || stats.Taken != 1 {
		t.Errorf("Stats() = %+v, want offered=2 dropped=1 taken=1", stats)
	}
}

func TestPipeline_DropNewestKeepsPending(t *testing.T) {
	var released []int
	p := New(Config[testFrame, int]{
		Policy:       DropNewest,
		ReleaseFrame: func(f testFrame) { released = append(released, f.id) },
	})

	p.Offer(testFrame{id: 1})
	p.Offer(testFrame{id: 2})

	f, ok := p.Take()
	if !ok || f.id != 1 {
		t.Errorf("Take() = (%d, %v), want (1, true)", f.id, ok)
	}
	if !reflect.DeepEqual(released, []int{2}) {
		t.Errorf("released = %v, want [2]", released)
	}
}

func TestPipeline_Freshness(t *testing.T) {
	tests := []struct {
		policy DropPolicy
		kept   int
	}{
		{policy: DropOldest, kept: 50},
		{policy: DropNewest, kept: 1},
	}

	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			released := map[int]int{}
			p := New(Config[testFrame, int]{
				Policy:       tt.policy,
				ReleaseFrame: func(f testFrame) { released[f.id]++ },
			})

			for i := 1; i <= 50; i++ {
				p.Offer(testFrame{id: i})
			}

			f, ok := p.Take()
			if !ok || f.id != tt.kept {
				t.Fatalf("Take() = (%d, %v), want (%d, true)", f.id, ok, tt.kept)
			}
			for i := 1; i <= 50; i++ {
				want := 1
				if i == tt.kept {
					want = 0
				}
				if released[i] != want {
					t.Errorf("frame %d released %d times, want %d", i, released[i], want)
				}
			}
			if st := p.Stats(); st.Offered != 50 || st.Dropped != 49 {
				t.Errorf("Stats() = %+v, want offered=50 dropped=49", st)
			}
		})
	}
}

func TestPipeline_OfferDuringInference(t *testing.T) {
	p := New(Config[testFrame, int]{})
	entered := make(chan struct{})
	release := make(chan struct{})
	engine := EngineFunc[testFrame, int](func(context.Context, testFrame, []Point) (int, error) {
		close(entered)
		<-release
		return 1, nil
	})
	w := NewWorker(p, engine, WorkerConfig[int]{})

	p.Offer(testFrame{id: 0})
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Step(context.Background())
	}()
	<-entered

	start := time.Now()
	for i := 1; i <= 100; i++ {
		p.Offer(testFrame{id: i})
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("100 offers took %s while the worker was inferring", elapsed)
	}

	close(release)
	<-done
	if f, ok := p.Take(); !ok || f.id != 100 {
		t.Errorf("Take() = (%d, %v), want (100, true)", f.id, ok)
	}
}

func TestPipeline_TakeEmpty(t *testing.T) {
	p := New(Config[testFrame, int]{})

	start := time.Now()
	_, ok := p.Take()
	if ok {
		t.Error("Take() on empty mailbox returned a frame")
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Take() took %s on an empty mailbox", elapsed)
	}
}

func TestPipeline_PublishPeek(t *testing.T) {
	p := New(Config[testFrame, string]{})

	if _, ok := p.Peek(); ok {
		t.Fatal("Peek() before first publish should be empty")
	}

	p.Publish("r1")
	if r, ok := p.Peek(); !ok || r != "r1" {
		t.Errorf("Peek() = (%q, %v), want (r1, true)", r, ok)
	}
	// Peek does not consume.
	if r, _ := p.Peek(); r != "r1" {
		t.Errorf("second Peek() = %q, want r1", r)
	}

	p.Publish("r2")
	if r, ok := p.Peek(); !ok || r != "r2" {
		t.Errorf("Peek() = (%q, %v), want (r2, true)", r, ok)
	}
}

func TestPipeline_MonotonicVisibility(t *testing.T) {
	p := New(Config[testFrame, int]{})

	for k := 1; k <= 100; k++ {
		p.Publish(k)
		got, ok := p.Peek()
		if !ok || got != k {
			t.Fatalf("after publish %d Peek() = (%d, %v)", k, got, ok)
		}
	}
}

func TestPipeline_ResultHooks(t *testing.T) {
	type result struct{ buf []byte }

	var released int
	p := New(Config[testFrame, *result]{
		ReleaseResult: func(*result) { released++ },
		CloneResult: func(r *result) *result {
			cp := make([]byte, len(r.buf))
			copy(cp, r.buf)
			return &result{buf: cp}
		},
	})

	orig := &result{buf: []byte{1, 2, 3}}
	p.Publish(orig)

	got, ok := p.Peek()
	if !ok {
		t.Fatal("Peek() empty after publish")
	}
	if got == orig {
		t.Error("Peek() returned the stored value instead of a copy")
	}
	got.buf[0] = 9
	if orig.buf[0] != 1 {
		t.Error("mutating the peeked copy changed the stored result")
	}

	p.Publish(&result{buf: []byte{4}})
	if released != 1 {
		t.Errorf("released = %d after overwrite, want 1", released)
	}

	p.ClearResult()
	if released != 2 {
		t.Errorf("released = %d after clear, want 2", released)
	}
	if _, ok := p.Peek(); ok {
		t.Error("Peek() should be empty after ClearResult")
	}
}

func TestPipeline_Points(t *testing.T) {
	p := New(Config[testFrame, int]{})

	p.AppendPoint(image.Pt(10, 20), Foreground)
	p.AppendPoint(image.Pt(5, 5), Background)

	want := []Point{
		{Pos: image.Pt(10, 20), Label: Foreground},
		{Pos: image.Pt(5, 5), Label: Background},
	}
	snap := p.SnapshotPoints()
	if !reflect.DeepEqual(snap, want) {
		t.Fatalf("SnapshotPoints() = %v, want %v", snap, want)
	}

	p.AppendPoint(image.Pt(1, 1), Foreground)
	if len(snap) != 2 {
		t.Errorf("snapshot changed after append: %v", snap)
	}
	if p.PointCount() != 3 {
		t.Errorf("PointCount() = %d, want 3", p.PointCount())
	}

	p.ClearPoints()
	if p.PointCount() != 0 {
		t.Errorf("PointCount() after clear = %d", p.PointCount())
	}

	p.SetPoints(want)
	if got := p.SnapshotPoints(); !reflect.DeepEqual(got, want) {
		t.Errorf("SnapshotPoints() after SetPoints = %v", got)
	}
}

func TestPipeline_Reset(t *testing.T) {
	var frames, results int
	p := New(Config[testFrame, int]{
		ReleaseFrame:  func(testFrame) { frames++ },
		ReleaseResult: func(int) { results++ },
	})

	p.Offer(testFrame{id: 1})
	p.Publish(7)
	p.Reset()

	if frames != 1 || results != 1 {
		t.Errorf("Reset released frames=%d results=%d, want 1 and 1", frames, results)
	}
	if _, ok := p.Take(); ok {
		t.Error("pending slot not empty after Reset")
	}
	if _, ok := p.Peek(); ok {
		t.Error("latest slot not empty after Reset")
	}
}

func TestPipeline_ConcurrentOfferTake(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping concurrency test in short mode")
	}

	var mu sync.Mutex
	released := 0
	p := New(Config[testFrame, int]{
		ReleaseFrame: func(testFrame) {
			mu.Lock()
			released++
			mu.Unlock()
		},
	})

	const n = 10000
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 1; i <= n; i++ {
			p.Offer(testFrame{id: i})
		}
	}()

	taken := 0
	last := 0
	go func() {
		defer wg.Done()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			f, ok := p.Take()
			if !ok {
				if p.Stats().Offered == n {
					return
				}
				continue
			}
			if f.id <= last {
				t.Errorf("took frame %d after %d", f.id, last)
			}
			last = f.id
			taken++
		}
	}()
	wg.Wait()

	// Drain anything left behind by the race between the last offer and the check.
	if _, ok := p.Take(); ok {
		taken++
	}

	mu.Lock()
	defer mu.Unlock()
	if taken+released != n {
		t.Errorf("taken(%d) + released(%d) = %d, want %d", taken, released, taken+released, n)
	}
}

func TestParseDropPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    DropPolicy
		wantErr bool
	}{
		{"", DropOldest, false},
		{"drop_oldest", DropOldest, false},
		{"DROP_NEWEST", DropNewest, false},
		{"newest", DropNewest, false},
		{"fifo", DropOldest, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDropPolicy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDropPolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDropPolicy(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
