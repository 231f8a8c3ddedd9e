package detector

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

var errKilled = errors.New("killed")

// fakeService runs an in-process stand-in for the Python service. handler gets the
// raw msgpack request and returns the reply, or false to hang up.
type fakeService struct {
	handler func(req []byte) (any, bool)

	mu       sync.Mutex
	launches int
}

func (f *fakeService) launch() (*serviceConn, error) {
	f.mu.Lock()
	f.launches++
	f.mu.Unlock()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	go func() {
		defer respW.Close()
		for {
			var req msgpack.RawMessage
			if err := readMessage(reqR, &req); err != nil {
				return
			}
			resp, ok := f.handler(req)
			if !ok {
				reqR.Close()
				return
			}
			if err := writeMessage(respW, resp); err != nil {
				return
			}
		}
	}()

	return &serviceConn{
		w:    reqW,
		r:    bufio.NewReader(respR),
		wait: func() error { return nil },
		kill: func() {
			reqR.CloseWithError(errKilled)
			respW.CloseWithError(errKilled)
		},
	}, nil
}

func newFakeService(cfg ServiceConfig, handler func([]byte) (any, bool)) (*Service, *fakeService) {
	fake := &fakeService{handler: handler}
	return &Service{cfg: cfg, launch: fake.launch}, fake
}

type echoRequest struct {
	Task  string `msgpack:"task"`
	Value int    `msgpack:"value"`
}

type echoResponse struct {
	Value int    `msgpack:"value"`
	Error string `msgpack:"error"`
}

func echoHandler(req []byte) (any, bool) {
	var r echoRequest
	if err := msgpack.Unmarshal(req, &r); err != nil {
		return echoResponse{Error: err.Error()}, true
	}
	if r.Task == "hangup" {
		return nil, false
	}
	return echoResponse{Value: r.Value * 2}, true
}

func TestMessageFraming(t *testing.T) {
	var buf bytes.Buffer

	if err := writeMessage(&buf, echoRequest{Task: "echo", Value: 21}); err != nil {
		t.Fatalf("writeMessage() error = %v", err)
	}

	// 4-byte big-endian length prefix
	raw := buf.Bytes()
	n := int(raw[0])<<24 | int(raw[1])<<16 | int(raw[2])<<8 | int(raw[3])
	if n != len(raw)-4 {
		t.Errorf("length prefix = %d, body = %d bytes", n, len(raw)-4)
	}

	var got echoRequest
	if err := readMessage(&buf, &got); err != nil {
		t.Fatalf("readMessage() error = %v", err)
	}
	if got.Task != "echo" || got.Value != 21 {
		t.Errorf("readMessage() = %+v", got)
	}
}

func TestReadMessage_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{name: "too large", input: []byte{0xff, 0xff, 0xff, 0xff}, wantErr: ErrMessageTooLarge},
		{name: "truncated prefix", input: []byte{0, 0}, wantErr: io.ErrUnexpectedEOF},
		{name: "truncated body", input: []byte{0, 0, 0, 8, 1, 2}, wantErr: io.ErrUnexpectedEOF},
		{name: "empty", input: nil, wantErr: io.EOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v echoResponse
			err := readMessage(bytes.NewReader(tt.input), &v)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("readMessage() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestService_CallStartsOnce(t *testing.T) {
	svc, fake := newFakeService(ServiceConfig{}, echoHandler)
	defer svc.Close()

	if svc.Running() {
		t.Fatal("service should start lazily")
	}

	for i := 1; i <= 3; i++ {
		var resp echoResponse
		if err := svc.Call(context.Background(), echoRequest{Task: "echo", Value: i}, &resp); err != nil {
			t.Fatalf("Call() error = %v", err)
		}
		if resp.Value != i*2 {
			t.Errorf("Call() value = %d, want %d", resp.Value, i*2)
		}
	}

	if fake.launches != 1 || svc.Starts() != 1 {
		t.Errorf("launches = %d starts = %d, want 1", fake.launches, svc.Starts())
	}
}

func TestService_RestartsAfterFailure(t *testing.T) {
	svc, _ := newFakeService(ServiceConfig{}, echoHandler)
	defer svc.Close()

	var resp echoResponse
	if err := svc.Call(context.Background(), echoRequest{Task: "hangup"}, &resp); err == nil {
		t.Fatal("Call() should fail when the service hangs up")
	}
	if svc.Running() {
		t.Error("service should be detached after a transport error")
	}

	if err := svc.Call(context.Background(), echoRequest{Task: "echo", Value: 5}, &resp); err != nil {
		t.Fatalf("Call() after restart error = %v", err)
	}
	if resp.Value != 10 {
		t.Errorf("value = %d, want 10", resp.Value)
	}
	if svc.Starts() != 2 {
		t.Errorf("Starts() = %d, want 2", svc.Starts())
	}
}

func TestService_ContextCancelUnblocks(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	svc, _ := newFakeService(ServiceConfig{}, func([]byte) (any, bool) {
		<-block
		return echoResponse{}, true
	})
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	var resp echoResponse
	err := svc.Call(ctx, echoRequest{Task: "echo"}, &resp)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Call() error = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Call() blocked for %s after cancel", elapsed)
	}
}

func TestService_CancelledBeforeCall(t *testing.T) {
	svc, fake := newFakeService(ServiceConfig{}, echoHandler)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var resp echoResponse
	if err := svc.Call(ctx, echoRequest{}, &resp); !errors.Is(err, context.Canceled) {
		t.Errorf("Call() error = %v, want Canceled", err)
	}
	if fake.launches != 0 {
		t.Error("cancelled call should not start the service")
	}
}

func TestService_IdleShutdown(t *testing.T) {
	svc, _ := newFakeService(ServiceConfig{IdleTimeout: 20 * time.Millisecond}, echoHandler)
	defer svc.Close()

	var resp echoResponse
	if err := svc.Call(context.Background(), echoRequest{Task: "echo", Value: 1}, &resp); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for svc.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if svc.Running() {
		t.Error("service still running after idle timeout")
	}
}

func TestNewService_MissingScript(t *testing.T) {
	_, err := NewService(ServiceConfig{Script: t.TempDir() + "/nope.py"})
	if !errors.Is(err, ErrServiceNotFound) {
		t.Errorf("NewService() error = %v, want ErrServiceNotFound", err)
	}
}
