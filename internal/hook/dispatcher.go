package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/ayusman/segcam/internal/detector"
)

const (
	// DefaultCooldown is the minimum gap between two runs of the same rule.
	DefaultCooldown = 5 * time.Second
	// DefaultQueue is how many matched results may wait for a hook run.
	DefaultQueue = 16
)

// Rule binds a trigger to a hook action.
type Rule struct {
	When     string
	Hook     string
	Action   string
	Params   map[string]any
	Cooldown time.Duration
}

type boundRule struct {
	Rule
	trigger Trigger
	hook    *Hook
	params  json.RawMessage
	last    time.Time
}

type job struct {
	rule    *boundRule
	summary detector.Summary
}

// Stats counts dispatcher activity.
type Stats struct {
	Fired   uint64
	Dropped uint64
	Failed  uint64
}

// runner is satisfied by Executor.
type runner interface {
	Execute(ctx context.Context, h *Hook, req *Request) (*Response, error)
}

// Dispatcher matches results against rules and runs hooks on its own goroutine, so
// a slow hook never holds up inference.
type Dispatcher struct {
	rules   []*boundRule
	exec    runner
	session string
	now     func() time.Time

	mu     sync.Mutex // guards boundRule.last and closed
	closed bool
	in     chan job
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once

	fired   atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewDispatcher resolves rules against the discovered hooks and starts the run loop.
func NewDispatcher(m *Manager, exec *Executor, session string, rules []Rule) (*Dispatcher, error) {
	return newDispatcher(m, exec, session, rules)
}

func newDispatcher(m *Manager, exec runner, session string, rules []Rule) (*Dispatcher, error) {
	bound := make([]*boundRule, 0, len(rules))
	for i, r := range rules {
		trig, err := ParseTrigger(r.When)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		h, err := m.Get(r.Hook)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %s: %w", i, r.Hook, err)
		}
		if !h.Supports(r.Action) {
			return nil, fmt.Errorf("rule %d: %s does not support action %q", i, r.Hook, r.Action)
		}
		var params json.RawMessage
		if len(r.Params) > 0 {
			if params, err = json.Marshal(r.Params); err != nil {
				return nil, fmt.Errorf("rule %d: params: %w", i, err)
			}
		}
		if r.Cooldown <= 0 {
			r.Cooldown = DefaultCooldown
		}
		bound = append(bound, &boundRule{Rule: r, trigger: trig, hook: h, params: params})
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		rules:   bound,
		exec:    exec,
		session: session,
		now:     time.Now,
		in:      make(chan job, DefaultQueue),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go d.run(ctx)
	return d, nil
}

// Fire queues a run for every rule s matches whose cooldown has passed. It never
// blocks; when the queue is full the run is dropped.
func (d *Dispatcher) Fire(s detector.Summary) {
	now := d.now()
	for _, r := range d.rules {
		if !r.trigger.Match(s) {
			continue
		}
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return
		}
		if !r.last.IsZero() && now.Sub(r.last) < r.Cooldown {
			d.mu.Unlock()
			continue
		}
		select {
		case d.in <- job{rule: r, summary: s}:
			r.last = now
		default:
			d.dropped.Add(1)
			glog.V(1).Infof("hook queue full, dropped %s for result %d", r.Hook, s.Seq)
		}
		d.mu.Unlock()
	}
}

// Close stops accepting work, waits for queued runs and returns. A running hook is
// killed once its timeout passes.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.in)
		d.mu.Unlock()
		<-d.done
		d.cancel()
	})
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Fired:   d.fired.Load(),
		Dropped: d.dropped.Load(),
		Failed:  d.failed.Load(),
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for j := range d.in {
		req := &Request{
			Action:  j.rule.Action,
			Trigger: j.rule.trigger.String(),
			Session: d.session,
			Summary: j.summary,
			Params:  j.rule.params,
		}
		d.fired.Add(1)
		resp, err := d.exec.Execute(ctx, j.rule.hook, req)
		switch {
		case err != nil:
			d.failed.Add(1)
			glog.Warningf("hook %s: %v", j.rule.Hook, err)
		case !resp.Success:
			d.failed.Add(1)
			glog.Warningf("hook %s/%s: %s", j.rule.Hook, j.rule.Action, resp.Error)
		default:
			glog.V(1).Infof("hook %s/%s ran for result %d", j.rule.Hook, j.rule.Action, j.summary.Seq)
		}
	}
}
