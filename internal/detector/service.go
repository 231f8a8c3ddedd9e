package detector

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultServiceScript is the file name searched for when no script is configured.
const DefaultServiceScript = "segcam_service.py"

// maxMessageSize bounds a single framed message.
const maxMessageSize = 64 << 20

var (
	// ErrServiceNotFound is returned when the service script cannot be located.
	ErrServiceNotFound = errors.New("service script not found")

	// ErrMessageTooLarge is returned for frames above maxMessageSize.
	ErrMessageTooLarge = errors.New("message too large")
)

// ServiceConfig locates and tunes the Python model service.
type ServiceConfig struct {
	Python      string
	Script      string
	Args        []string
	IdleTimeout time.Duration
}

// serviceConn is one live session with the service process.
type serviceConn struct {
	w    io.WriteCloser
	r    *bufio.Reader
	wait func() error
	kill func()
}

// Service talks to a long-lived model process over stdin/stdout. Each call writes a
// length-prefixed msgpack request and reads a length-prefixed msgpack response.
//
// The process is started lazily on first use, restarted after any transport error
// and shut down after IdleTimeout without calls.
type Service struct {
	cfg    ServiceConfig
	launch func() (*serviceConn, error)

	mu        sync.Mutex
	conn      *serviceConn
	idleTimer *time.Timer
	starts    int
}

// NewService creates a Service. It fails fast if the script cannot be found.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Script == "" {
		cfg.Script = findServiceScript(DefaultServiceScript)
	}
	if cfg.Script == "" {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, DefaultServiceScript)
	}
	if _, err := os.Stat(cfg.Script); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceNotFound, err)
	}
	if cfg.Python == "" {
		cfg.Python = findVenvPython()
	}
	if cfg.Python == "" {
		cfg.Python = "python3"
	}

	s := &Service{cfg: cfg}
	s.launch = s.startProcess
	return s, nil
}

// Call sends req and decodes the reply into resp. Cancelling ctx kills the process
// so a blocked read returns; the next call starts a fresh one.
func (s *Service) Call(ctx context.Context, req, resp any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureStarted(); err != nil {
		return err
	}
	conn := s.conn

	stop := context.AfterFunc(ctx, conn.kill)
	err := roundTrip(conn, req, resp)
	stop()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		glog.Warningf("model service call failed, restarting on next call: %v", err)
		s.shutdown()
		return err
	}

	s.resetIdleTimer()
	return nil
}

// Starts returns how many times the process has been launched.
func (s *Service) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// Running reports whether a process is currently attached.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Close shuts down the process.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown()
}

func roundTrip(conn *serviceConn, req, resp any) error {
	if err := writeMessage(conn.w, req); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	if err := readMessage(conn.r, resp); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	return nil
}

// writeMessage writes a 4-byte big-endian length followed by the msgpack body.
func writeMessage(w io.Writer, v any) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if len(body) > maxMessageSize {
		return ErrMessageTooLarge
	}

	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)

	_, err = w.Write(buf)
	return err
}

// readMessage reads one frame written by writeMessage and decodes it into v.
func readMessage(r io.Reader, v any) error {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(length[:])
	if n > maxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func (s *Service) ensureStarted() error {
	if s.conn != nil {
		return nil
	}

	conn, err := s.launch()
	if err != nil {
		return err
	}
	s.conn = conn
	s.starts++
	return nil
}

func (s *Service) startProcess() (*serviceConn, error) {
	args := append([]string{s.cfg.Script}, s.cfg.Args...)
	cmd := exec.Command(s.cfg.Python, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	// Model loading progress goes to stderr.
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start model service: %w", err)
	}
	glog.Infof("model service started: %s %s (pid %d)", s.cfg.Python, s.cfg.Script, cmd.Process.Pid)

	return &serviceConn{
		w:    stdin,
		r:    bufio.NewReader(stdout),
		wait: cmd.Wait,
		kill: func() { cmd.Process.Kill() },
	}, nil
}

func (s *Service) shutdown() error {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	if s.conn == nil {
		return nil
	}

	conn := s.conn
	s.conn = nil

	// Closing stdin asks the service to exit.
	conn.w.Close()
	return conn.wait()
}

func (s *Service) resetIdleTimer() {
	if s.cfg.IdleTimeout <= 0 {
		return
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.cfg.IdleTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.conn != nil {
			glog.V(1).Infof("model service idle for %s, shutting down", s.cfg.IdleTimeout)
		}
		s.shutdown()
	})
}

func findServiceScript(name string) string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", name),
		filepath.Join("..", "scripts", name),
		filepath.Join(execDir, "scripts", name),
		filepath.Join(os.Getenv("HOME"), ".segcam", "scripts", name),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment
// relative to the working directory or the executable.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".segcam/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}
	return ""
}
