package emitter

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

// Commands accepted on the control topic.
const (
	CommandPause     = "pause"
	CommandResume    = "resume"
	CommandClear     = "clear"
	CommandNextColor = "next_color"
	CommandLoad      = "load_prompt"
)

// ErrUnknownCommand is returned for commands with no handler.
var ErrUnknownCommand = errors.New("unknown command")

// Handlers are called for control commands. Nil handlers reject their command.
// They run on the MQTT client's goroutine and must not block.
type Handlers struct {
	OnPause     func(paused bool)
	OnClear     func()
	OnNextColor func()
	OnLoad      func() error
}

// Command is the JSON body of a control message.
type Command struct {
	Command string `json:"command"`
}

type subscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// Control dispatches commands received on the control topic.
type Control struct {
	client   subscriber
	topic    string
	qos      byte
	handlers Handlers
}

func newControl(client subscriber, topic string, qos byte, handlers Handlers) *Control {
	return &Control{client: client, topic: topic, qos: qos, handlers: handlers}
}

func (c *Control) subscribe(timeout time.Duration) error {
	token := c.client.Subscribe(c.topic, c.qos, c.onMessage)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("subscribe %s: timeout", c.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, err)
	}
	glog.Infof("mqtt: listening for commands on %s", c.topic)
	return nil
}

// Stop unsubscribes from the control topic.
func (c *Control) Stop() {
	token := c.client.Unsubscribe(c.topic)
	token.WaitTimeout(time.Second)
}

func (c *Control) onMessage(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		glog.Warningf("mqtt: invalid command on %s: %v", msg.Topic(), err)
		return
	}
	if err := c.Dispatch(cmd.Command); err != nil {
		glog.Warningf("mqtt: command %q: %v", cmd.Command, err)
		return
	}
	glog.V(1).Infof("mqtt: command %q applied", cmd.Command)
}

// Dispatch runs the handler for name.
func (c *Control) Dispatch(name string) error {
	h := c.handlers
	switch {
	case name == CommandPause && h.OnPause != nil:
		h.OnPause(true)
	case name == CommandResume && h.OnPause != nil:
		h.OnPause(false)
	case name == CommandClear && h.OnClear != nil:
		h.OnClear()
	case name == CommandNextColor && h.OnNextColor != nil:
		h.OnNextColor()
	case name == CommandLoad && h.OnLoad != nil:
		return h.OnLoad()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return nil
}
