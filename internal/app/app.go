// Package app wires the camera, the latest-frame pipeline, the inference engine and
// the display into the segcam capture loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/ayusman/segcam/internal/capture"
	"github.com/ayusman/segcam/internal/config"
	"github.com/ayusman/segcam/internal/detector"
	"github.com/ayusman/segcam/internal/emitter"
	"github.com/ayusman/segcam/internal/hook"
	"github.com/ayusman/segcam/internal/pipeline"
	"github.com/ayusman/segcam/internal/render"
	"github.com/ayusman/segcam/internal/store"
)

// ErrNoStore is returned by prompt operations when journaling is disabled.
var ErrNoStore = errors.New("prompt store not enabled")

// Options injects collaborators. Nil fields are built from the config.
type Options struct {
	Camera  capture.Camera
	Engine  detector.Engine
	Store   *store.Store
	Display Display

	// MaxFrames stops the loop after this many frames. Zero means run until the
	// source ends or the user quits.
	MaxFrames int

	// OnSummary is called on the inference goroutine after every successful result.
	// It must not block.
	OnSummary func(detector.Summary)
}

// App is the capture loop and everything it drives.
type App struct {
	cfg  *config.Config
	opts Options

	camera   capture.Camera
	engine   detector.Engine
	pipe     *pipeline.Pipeline[*capture.Frame, *detector.Result]
	worker   *pipeline.Worker[*capture.Frame, *detector.Result]
	renderer *render.Renderer
	gate     *capture.MotionGate
	display  Display
	fps      render.FPSMeter

	store     *store.Store
	ownsStore bool
	session   *store.Session
	journal   *store.Journal
	emitter   *emitter.Emitter
	control   *emitter.Control
	hooks     *hook.Dispatcher

	seq       uint64
	frames    atomic.Uint64
	frameSize atomic.Value // image.Point
	seeded    bool
	quit      atomic.Bool

	closeOnce sync.Once
}

// New builds an App. Nothing is opened until Run.
func New(cfg *config.Config, opts Options) (*App, error) {
	a := &App{
		cfg:      cfg,
		opts:     opts,
		camera:   opts.Camera,
		engine:   opts.Engine,
		renderer: render.New(cfg.RenderOptions()),
		display:  opts.Display,
		store:    opts.Store,
	}

	if a.camera == nil {
		a.camera = capture.NewCamera(cfg.CaptureSource())
	}
	if a.engine == nil {
		eng, err := detector.New(cfg.DetectorConfig())
		if err != nil {
			return nil, fmt.Errorf("engine %s: %w", cfg.Engine.Kind, err)
		}
		a.engine = eng
	}
	if a.store == nil && cfg.Store.Enabled {
		st, err := store.New(cfg.Store.Path)
		if err != nil {
			a.engine.Close()
			return nil, fmt.Errorf("store: %w", err)
		}
		a.store = st
		a.ownsStore = true
	}
	if cfg.Pipeline.MotionGate {
		a.gate = capture.NewMotionGate(cfg.Pipeline.MotionThreshold)
	}

	a.pipe = pipeline.New(pipeline.Config[*capture.Frame, *detector.Result]{
		Policy:        cfg.DropPolicy(),
		ReleaseFrame:  capture.ReleaseFrame,
		ReleaseResult: detector.ReleaseResult,
		CloneResult:   detector.CloneResult,
	})
	a.worker = pipeline.NewWorker(a.pipe, pipeline.Engine[*capture.Frame, *detector.Result](a.engine),
		pipeline.WorkerConfig[*detector.Result]{
			IdleSleep:     cfg.Pipeline.IdleSleep,
			StopTimeout:   cfg.Pipeline.StopTimeout,
			RequirePoints: cfg.PointsRequired(),
			OnResult:      a.observe,
		})

	return a, nil
}

// Run opens the source, starts inference and runs the capture loop on the calling
// goroutine until the source ends, the user quits or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.camera.Open(); err != nil {
		a.Close()
		return fmt.Errorf("open source %s: %w", a.cfg.CaptureSource(), err)
	}
	if a.display == nil {
		d, err := newDisplay(a.cfg.Render, a)
		if err != nil {
			a.Close()
			return err
		}
		a.display = d
	}

	a.startOutputs()

	if err := a.worker.Start(ctx); err != nil {
		a.Close()
		return err
	}
	glog.Infof("segcam: %s engine on %s (policy %s, points required %v)",
		a.engine.Name(), a.cfg.CaptureSource(), a.pipe.Policy(), a.cfg.PointsRequired())

	err := a.runProducer(ctx)
	a.Close()
	return err
}

// startOutputs opens the journal session, the MQTT emitter and the hook dispatcher.
// Failures are logged and the output is skipped; none is needed to run the loop.
func (a *App) startOutputs() {
	sessionID := ""
	if a.store != nil {
		sess, err := a.store.Sessions().Start(a.engine.Name(), a.cfg.CaptureSource().String())
		if err != nil {
			glog.Warningf("journal disabled: %v", err)
		} else {
			a.session = sess
			a.journal = a.store.NewJournal(sess.ID, store.JournalConfig{})
			sessionID = sess.ID
			glog.Infof("journaling session %s to %s", sess.ID, a.store.Path())
		}
	}

	a.startMQTT(sessionID)
	a.startHooks(sessionID)
}

func (a *App) startMQTT(sessionID string) {
	if a.cfg.MQTT.Broker == "" {
		return
	}
	em, err := emitter.Connect(a.cfg.EmitterConfig(), sessionID)
	if err != nil {
		glog.Warningf("mqtt disabled: %v", err)
		return
	}
	a.emitter = em

	if !a.cfg.MQTT.Control {
		return
	}
	ctl, err := em.Listen(emitter.Handlers{
		OnPause:     a.SetPaused,
		OnClear:     a.ClearPrompt,
		OnNextColor: func() { a.NextColor() },
		OnLoad:      a.LoadPrompt,
	})
	if err != nil {
		glog.Warningf("mqtt control disabled: %v", err)
		return
	}
	a.control = ctl
}

func (a *App) startHooks(sessionID string) {
	rules := a.cfg.HookRules()
	if len(rules) == 0 {
		return
	}
	m := hook.NewManager(a.cfg.Hooks.Dir)
	if err := m.Discover(); err != nil {
		glog.Warningf("hooks disabled: %v", err)
		return
	}
	d, err := hook.NewDispatcher(m, hook.NewExecutor(a.cfg.Hooks.Timeout), sessionID, rules)
	if err != nil {
		glog.Warningf("hooks disabled: %v", err)
		return
	}
	a.hooks = d
	glog.Infof("hooks: %d rules over %d hooks in %s", len(rules), len(m.List()), m.Dir())
}

// observe runs on the inference goroutine before each result is published.
func (a *App) observe(res *detector.Result) {
	sum := res.Summary()
	if a.journal != nil {
		if !a.journal.Record(sum) {
			glog.V(1).Infof("journal full, dropped result %d", sum.Seq)
		}
	}
	if a.emitter != nil {
		a.emitter.Emit(sum)
	}
	if a.hooks != nil {
		a.hooks.Fire(sum)
	}
	if a.opts.OnSummary != nil {
		a.opts.OnSummary(sum)
	}
}

// Close stops inference and releases everything Run opened. It is safe to call more
// than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if err := a.worker.Stop(); err != nil {
			// The worker may still be inside the engine; it exits on its own.
			glog.Warningf("inference worker: %v", err)
		}
		a.pipe.Reset()

		if err := a.camera.Close(); err != nil {
			glog.Warningf("error closing source: %v", err)
		}
		if err := a.engine.Close(); err != nil {
			glog.Warningf("error closing engine: %v", err)
		}
		if a.gate != nil {
			a.gate.Close()
		}
		if a.display != nil {
			if err := a.display.Close(); err != nil {
				glog.Warningf("error closing display: %v", err)
			}
		}

		if a.control != nil {
			a.control.Stop()
		}
		if a.emitter != nil {
			a.emitter.Close()
			s := a.emitter.Stats()
			glog.Infof("mqtt: published %d, dropped %d, errors %d", s.Published, s.Dropped, s.Errors)
		}
		if a.hooks != nil {
			a.hooks.Close()
			s := a.hooks.Stats()
			glog.Infof("hooks: fired %d, dropped %d, failed %d", s.Fired, s.Dropped, s.Failed)
		}
		a.closeSession()
		if a.ownsStore {
			if err := a.store.Close(); err != nil {
				glog.Warningf("error closing store: %v", err)
			}
		}

		ws := a.worker.Stats()
		glog.Infof("segcam: %d frames, %d inferences, %d failures, %d dropped",
			a.frames.Load(), ws.Inferences, ws.Failures, a.pipe.Stats().Dropped)
	})
}

func (a *App) closeSession() {
	if a.journal != nil {
		a.journal.Close()
		glog.Infof("journal: wrote %d results, dropped %d, failed %d",
			a.journal.Written(), a.journal.Dropped(), a.journal.Failed())
	}
	if a.session == nil {
		return
	}
	ws := a.worker.Stats()
	err := a.store.Sessions().End(a.session.ID, store.SessionTotals{
		Frames:     a.frames.Load(),
		Dropped:    a.pipe.Stats().Dropped,
		Inferences: ws.Inferences,
		Failures:   ws.Failures,
	})
	if err != nil {
		glog.Warningf("error closing session %s: %v", a.session.ID, err)
	}
}

// Quit asks the capture loop to stop after the current frame.
func (a *App) Quit() {
	a.quit.Store(true)
}

// SetPaused pauses or resumes inference. The video keeps running.
func (a *App) SetPaused(paused bool) {
	a.worker.SetPaused(paused)
	glog.Infof("inference paused: %v", paused)
}

// Paused reports whether inference is paused.
func (a *App) Paused() bool {
	return a.worker.Paused()
}

// TogglePause flips the pause state and returns the new one.
func (a *App) TogglePause() bool {
	paused := !a.worker.Paused()
	a.SetPaused(paused)
	return paused
}

// NextColor advances the mask colour.
func (a *App) NextColor() render.Swatch {
	return a.renderer.NextColor()
}

// AddPoint appends a steering point in frame coordinates.
func (a *App) AddPoint(at image.Point, label pipeline.Label) {
	a.pipe.AppendPoint(at, label)
	glog.V(1).Infof("point %v %s (%d total)", at, label, a.pipe.PointCount())
}

// ClearPrompt removes every steering point and the displayed result.
func (a *App) ClearPrompt() {
	a.pipe.ClearPoints()
	a.pipe.ClearResult()
	if a.gate != nil {
		a.gate.Reset()
	}
}

// SavePrompt stores the current points under name.
func (a *App) SavePrompt(name string) (*store.Prompt, error) {
	if a.store == nil {
		return nil, ErrNoStore
	}
	size := a.FrameSize()
	p := &store.Prompt{
		Name:   name,
		Width:  size.X,
		Height: size.Y,
		Points: a.pipe.SnapshotPoints(),
	}
	if err := a.store.Prompts().Create(p); err != nil {
		return nil, err
	}
	glog.Infof("saved prompt %s with %d points", p.ID, len(p.Points))
	return p, nil
}

// LoadPrompt replaces the points with the most recently saved prompt, scaled to the
// current frame size.
func (a *App) LoadPrompt() error {
	if a.store == nil {
		return ErrNoStore
	}
	p, err := a.store.Prompts().Latest()
	if err != nil {
		return fmt.Errorf("load prompt: %w", err)
	}
	size := a.FrameSize()
	if size == (image.Point{}) {
		size = image.Pt(p.Width, p.Height)
	}
	a.pipe.SetPoints(p.ScaledTo(size.X, size.Y))
	a.pipe.ClearResult()
	glog.Infof("loaded prompt %s (%s) with %d points", p.ID, p.Name, len(p.Points))
	return nil
}

// FrameSize returns the size of the last captured frame, or zero before the first.
func (a *App) FrameSize() image.Point {
	if v, ok := a.frameSize.Load().(image.Point); ok {
		return v
	}
	return image.Point{}
}

// Pipeline exposes the mailboxes.
func (a *App) Pipeline() *pipeline.Pipeline[*capture.Frame, *detector.Result] {
	return a.pipe
}

// Worker exposes the inference worker.
func (a *App) Worker() *pipeline.Worker[*capture.Frame, *detector.Result] {
	return a.worker
}

// Frames returns the number of frames captured so far.
func (a *App) Frames() uint64 {
	return a.frames.Load()
}

// SessionID returns the journal session, or "" when journaling is off.
func (a *App) SessionID() string {
	if a.session == nil {
		return ""
	}
	return a.session.ID
}
