package emitter

import (
	"errors"
	"testing"
	"time"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type recorder struct {
	paused  []bool
	cleared int
	colors  int
	loads   int
	loadErr error
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnPause:     func(p bool) { r.paused = append(r.paused, p) },
		OnClear:     func() { r.cleared++ },
		OnNextColor: func() { r.colors++ },
		OnLoad: func() error {
			r.loads++
			return r.loadErr
		},
	}
}

func TestControl_Dispatch(t *testing.T) {
	rec := &recorder{}
	c := newControl(&fakeBroker{}, "segcam/control", 0, rec.handlers())

	for _, cmd := range []string{CommandPause, CommandResume, CommandClear, CommandNextColor, CommandLoad} {
		if err := c.Dispatch(cmd); err != nil {
			t.Errorf("Dispatch(%q) error = %v", cmd, err)
		}
	}

	if len(rec.paused) != 2 || !rec.paused[0] || rec.paused[1] {
		t.Errorf("paused = %v, want [true false]", rec.paused)
	}
	if rec.cleared != 1 || rec.colors != 1 || rec.loads != 1 {
		t.Errorf("recorder = %+v", rec)
	}
}

func TestControl_DispatchErrors(t *testing.T) {
	loadErr := errors.New("no saved prompt")
	rec := &recorder{loadErr: loadErr}
	c := newControl(&fakeBroker{}, "t", 0, rec.handlers())

	if err := c.Dispatch("reboot"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Dispatch(reboot) error = %v, want ErrUnknownCommand", err)
	}
	if err := c.Dispatch(CommandLoad); !errors.Is(err, loadErr) {
		t.Errorf("Dispatch(load) error = %v, want %v", err, loadErr)
	}

	bare := newControl(&fakeBroker{}, "t", 0, Handlers{})
	if err := bare.Dispatch(CommandPause); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Dispatch without handler error = %v, want ErrUnknownCommand", err)
	}
}

func TestControl_SubscribeAndReceive(t *testing.T) {
	broker := &fakeBroker{}
	rec := &recorder{}
	c := newControl(broker, "segcam/control", 1, rec.handlers())

	if err := c.subscribe(time.Second); err != nil {
		t.Fatalf("subscribe() error = %v", err)
	}
	if broker.subscribed != "segcam/control" || broker.handler == nil {
		t.Fatalf("subscribed to %q", broker.subscribed)
	}

	broker.handler(nil, &fakeMessage{topic: "segcam/control", payload: []byte(`{"command":"clear"}`)})
	broker.handler(nil, &fakeMessage{topic: "segcam/control", payload: []byte(`not json`)})
	broker.handler(nil, &fakeMessage{topic: "segcam/control", payload: []byte(`{"command":"pause"}`)})

	if rec.cleared != 1 || len(rec.paused) != 1 {
		t.Errorf("recorder = %+v", rec)
	}

	c.Stop()
	if len(broker.unsubscribed) != 1 || broker.unsubscribed[0] != "segcam/control" {
		t.Errorf("unsubscribed = %v", broker.unsubscribed)
	}
}
