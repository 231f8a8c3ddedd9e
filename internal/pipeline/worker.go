package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

// Worker defaults.
const (
	DefaultIdleSleep   = 10 * time.Millisecond
	DefaultStopTimeout = time.Second
)

// Engine runs inference on one frame, steered by a snapshot of the points.
type Engine[F, R any] interface {
	Infer(ctx context.Context, frame F, points []Point) (R, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc[F, R any] func(ctx context.Context, frame F, points []Point) (R, error)

// Infer calls f.
func (f EngineFunc[F, R]) Infer(ctx context.Context, frame F, points []Point) (R, error) {
	return f(ctx, frame, points)
}

// State is the consumer state.
type State int32

const (
	StateIdle State = iota
	StateInferring
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInferring:
		return "inferring"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// WorkerConfig tunes the consumer loop.
type WorkerConfig[R any] struct {
	// IdleSleep is how long the consumer sleeps when no frame is pending.
	IdleSleep time.Duration

	// StopTimeout bounds how long Stop waits for the consumer to exit.
	StopTimeout time.Duration

	// RequirePoints skips inference while there are no steering points.
	RequirePoints bool

	// OnResult is called with each successful result before it is published.
	// It runs on the consumer goroutine and must not retain the result.
	OnResult func(R)
}

// WorkerStats is a snapshot of consumer counters.
type WorkerStats struct {
	State       State
	Cycles      uint64
	Inferences  uint64
	Failures    uint64
	Skipped     uint64
	LastLatency time.Duration
	LastError   string
}

// Worker is the consumer task: it takes pending frames, runs the engine and
// publishes results.
type Worker[F, R any] struct {
	p      *Pipeline[F, R]
	engine Engine[F, R]
	cfg    WorkerConfig[R]

	stop   atomic.Bool
	paused atomic.Bool
	state  atomic.Int32

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	cycles      atomic.Uint64
	inferences  atomic.Uint64
	failures    atomic.Uint64
	skipped     atomic.Uint64
	lastLatency atomic.Int64
	lastErr     atomic.Value // string
}

// NewWorker creates a consumer for p. Zero durations in cfg take the defaults.
func NewWorker[F, R any](p *Pipeline[F, R], engine Engine[F, R], cfg WorkerConfig[R]) *Worker[F, R] {
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = DefaultIdleSleep
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &Worker[F, R]{
		p:      p,
		engine: engine,
		cfg:    cfg,
		done:   make(chan struct{}),
	}
}

// Start spawns the consumer goroutine. It returns immediately.
func (w *Worker[F, R]) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrAlreadyStarted
	}
	w.started = true

	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)

	glog.V(1).Infof("pipeline worker started (idle_sleep=%s, require_points=%t)",
		w.cfg.IdleSleep, w.cfg.RequirePoints)
	return nil
}

// Stop raises the stop flag and waits up to StopTimeout for the consumer to exit.
// On timeout it returns ErrShutdownTimeout and leaves the goroutine behind.
// Calling Stop on a worker that never started is a no-op.
func (w *Worker[F, R]) Stop() error {
	w.mu.Lock()
	started, cancel := w.started, w.cancel
	w.mu.Unlock()

	if !started {
		return nil
	}

	w.stop.Store(true)
	cancel()

	timer := time.NewTimer(w.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-w.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w (%s)", ErrShutdownTimeout, w.cfg.StopTimeout)
	}
}

// Done is closed when the consumer goroutine exits.
func (w *Worker[F, R]) Done() <-chan struct{} {
	return w.done
}

// SetPaused pauses or resumes inference. A paused worker keeps draining the
// pending slot so no stale frame is inferred on resume.
func (w *Worker[F, R]) SetPaused(paused bool) {
	w.paused.Store(paused)
}

// Paused reports whether inference is paused.
func (w *Worker[F, R]) Paused() bool {
	return w.paused.Load()
}

// State returns the current consumer state.
func (w *Worker[F, R]) State() State {
	return State(w.state.Load())
}

// Stats returns the consumer counters.
func (w *Worker[F, R]) Stats() WorkerStats {
	s := WorkerStats{
		State:       w.State(),
		Cycles:      w.cycles.Load(),
		Inferences:  w.inferences.Load(),
		Failures:    w.failures.Load(),
		Skipped:     w.skipped.Load(),
		LastLatency: time.Duration(w.lastLatency.Load()),
	}
	if v, ok := w.lastErr.Load().(string); ok {
		s.LastError = v
	}
	return s
}

func (w *Worker[F, R]) run(ctx context.Context) {
	defer close(w.done)
	defer w.state.Store(int32(StateStopped))

	for !w.stop.Load() {
		if !w.Step(ctx) {
			time.Sleep(w.cfg.IdleSleep)
		}
	}
	glog.V(1).Infof("pipeline worker stopped after %d cycles", w.cycles.Load())
}

// Step runs one consumer cycle on the calling goroutine and reports whether a
// frame was taken. It must not be called while the worker is started.
func (w *Worker[F, R]) Step(ctx context.Context) bool {
	frame, ok := w.p.Take()
	if !ok {
		return false
	}
	defer w.p.Release(frame)

	if w.paused.Load() {
		w.skipped.Add(1)
		return true
	}

	points := w.p.SnapshotPoints()
	if w.cfg.RequirePoints && len(points) == 0 {
		w.skipped.Add(1)
		return true
	}

	cycle := w.cycles.Add(1)
	w.state.Store(int32(StateInferring))
	defer w.state.Store(int32(StateIdle))

	start := time.Now()
	result, err := w.infer(ctx, frame, points)
	latency := time.Since(start)

	if errors.Is(err, ErrNoPoints) {
		w.skipped.Add(1)
		glog.V(2).Infof("inference cycle %d skipped: %v", cycle, err)
		return true
	}
	if err != nil {
		ierr := &InferenceError{Cycle: cycle, Err: err}
		w.failures.Add(1)
		w.lastErr.Store(ierr.Error())
		glog.Warningf("%v", ierr)
		return true
	}

	w.inferences.Add(1)
	w.lastLatency.Store(int64(latency))

	// Stop may have given up on this cycle and torn the slots down already.
	if w.stop.Load() {
		w.p.Discard(result)
		glog.V(1).Infof("inference cycle %d finished after stop, result discarded", cycle)
		return true
	}
	glog.V(2).Infof("inference cycle %d done in %s with %d points", cycle, latency, len(points))

	if w.cfg.OnResult != nil {
		w.cfg.OnResult(result)
	}
	w.p.Publish(result)
	return true
}

func (w *Worker[F, R]) infer(ctx context.Context, frame F, points []Point) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	return w.engine.Infer(ctx, frame, points)
}
