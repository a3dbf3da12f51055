package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/logging"
)

const (
	// DefaultGrace is the wait after SIGTERM before escalating to SIGKILL.
	DefaultGrace = 5 * time.Second

	// writeTimeout bounds a single stdin write so callers never hang on a
	// child that stopped draining its pipe.
	writeTimeout = 5 * time.Second

	// maxLineBytes caps a single scanned output line.
	maxLineBytes = 1024 * 1024
)

// Stream identifies which output channel a line arrived on.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Sink receives each complete output line as soon as it is read.
type Sink func(line string, stream Stream)

// Config describes the child to run.
type Config struct {
	Command string
	Args    []string
	Dir     string
	UsePTY  bool
	Env     map[string]string
	Grace   time.Duration // 0 means DefaultGrace
}

// Controller owns a single child process. A controller can be restarted; at
// most one child is alive at a time.
type Controller struct {
	cfg    Config
	sink   Sink
	logger *logging.Logger
	onExit func(err error)

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	ptmx    *os.File
	running bool
	exited  chan struct{}
	readers sync.WaitGroup

	// writeMu serializes stdin writers so commands reach the child in send
	// order.
	writeMu sync.Mutex
}

// New builds a controller. The sink may be nil when output is unwanted.
func New(cfg Config, sink Sink, logger *logging.Logger) *Controller {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{cfg: cfg, sink: sink, logger: logger}
}

// SetOnExit registers a callback fired once per child exit, after streams
// drain. Set it before Start.
func (c *Controller) SetOnExit(fn func(err error)) {
	c.onExit = fn
}

// Start spawns the child, creating the working directory if absent, and
// launches the stream readers. Spawn failures are returned, not retried.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrAlreadyRunning
	}

	if c.cfg.Dir != "" {
		if err := os.MkdirAll(c.cfg.Dir, 0o755); err != nil {
			return fmt.Errorf("create working directory: %w", err)
		}
	}

	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Dir = c.cfg.Dir
	cmd.Env = os.Environ()
	for key, value := range c.cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	if c.cfg.UsePTY {
		if err := c.startPTY(cmd); err != nil {
			return err
		}
	} else {
		if err := c.startPipes(cmd); err != nil {
			return err
		}
	}

	c.cmd = cmd
	c.running = true
	c.exited = make(chan struct{})

	c.logger.Info("Child process started",
		zap.String("command", c.cfg.Command),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("dir", c.cfg.Dir),
		zap.Bool("pty", c.cfg.UsePTY))

	go c.monitor(cmd, c.exited)
	return nil
}

// startPipes attaches stdin/stdout/stderr pipes and begins both readers.
func (c *Controller) startPipes(cmd *exec.Cmd) error {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return spawnError(err, c.cfg.Command)
	}

	c.stdin = stdin
	c.ptmx = nil
	c.readers.Add(2)
	go c.readLines(stdout, StreamStdout)
	go c.readLines(stderr, StreamStderr)
	return nil
}

// startPTY runs the child under a pseudo-terminal. Both output streams
// arrive interleaved on the PTY file, which also accepts input.
func (c *Controller) startPTY(cmd *exec.Cmd) error {
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return spawnError(err, c.cfg.Command)
	}

	c.ptmx = ptmx
	c.stdin = ptmx
	c.readers.Add(1)
	go c.readLines(ptmx, StreamStdout)
	return nil
}

func spawnError(err error, command string) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, command)
	}
	return fmt.Errorf("spawn %s: %w", command, err)
}

// readLines forwards complete lines to the sink until the stream closes.
// Read errors at shutdown (closed pipe, PTY EIO) end the loop quietly.
func (c *Controller) readLines(r io.Reader, stream Stream) {
	defer c.readers.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if c.sink != nil {
			c.sink(line, stream)
		}
	}
}

// monitor is the only Wait caller. It reaps the child after the readers
// drain, flips liveness, closes the exit channel, and fires the callback.
func (c *Controller) monitor(cmd *exec.Cmd, exited chan struct{}) {
	c.readers.Wait()
	err := cmd.Wait()

	c.mu.Lock()
	c.running = false
	if c.ptmx != nil {
		c.ptmx.Close()
		c.ptmx = nil
	}
	c.mu.Unlock()
	close(exited)

	if err != nil {
		c.logger.Info("Child process exited", zap.Error(err))
	} else {
		c.logger.Info("Child process exited cleanly")
	}

	if c.onExit != nil {
		c.onExit(err)
	}
}

// SendInput writes newline-terminated text to the child's stdin. Writes are
// serialized and deadline-bounded, and a dead child reports ErrStreamClosed.
func (c *Controller) SendInput(text string) error {
	c.mu.Lock()
	stdin := c.stdin
	running := c.running
	c.mu.Unlock()

	if !running || stdin == nil {
		return ErrStreamClosed
	}

	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if f, ok := stdin.(*os.File); ok {
		f.SetWriteDeadline(time.Now().Add(writeTimeout))
		defer f.SetWriteDeadline(time.Time{})
	}

	if _, err := stdin.Write([]byte(text)); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return fmt.Errorf("stdin write timed out after %s", writeTimeout)
		}
		return fmt.Errorf("%w: %v", ErrStreamClosed, err)
	}
	return nil
}

// IsRunning is a non-blocking liveness poll.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// PID reports the child pid, or 0 before the first Start.
func (c *Controller) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Terminate signals the child and waits for it to exit, escalating to a
// forced kill after the grace window. It is idempotent and always reaps;
// calling it on a never-started or already-dead controller is a no-op.
func (c *Controller) Terminate() error {
	c.mu.Lock()
	cmd := c.cmd
	exited := c.exited
	running := c.running
	c.mu.Unlock()

	if cmd == nil || !running {
		return nil
	}

	c.logger.Info("Terminating child process", zap.Int("pid", cmd.Process.Pid))
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Signal delivery fails when the child is already gone; the
		// monitor still reaps it.
		c.logger.Debug("SIGTERM delivery failed", zap.Error(err))
	}

	select {
	case <-exited:
		return nil
	case <-time.After(c.cfg.Grace):
	}

	c.logger.Warn("Grace window elapsed, killing child",
		zap.Int("pid", cmd.Process.Pid),
		zap.Duration("grace", c.cfg.Grace))
	if err := cmd.Process.Kill(); err != nil {
		c.logger.Debug("Kill delivery failed", zap.Error(err))
	}

	<-exited
	return nil
}

// Restart terminates the current child, if any, and starts a new one with
// identical parameters.
func (c *Controller) Restart() error {
	if err := c.Terminate(); err != nil {
		return err
	}
	return c.Start()
}
