package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sys/unix"
)

// ErrSessionFault marks an operation that failed because the agent process
// has exited or its terminal stopped accepting input.
var ErrSessionFault = errors.New("session fault")

const (
	DefaultTerm           = "xterm-256color"
	DefaultWriteTimeout   = 2 * time.Second
	DefaultTerminateGrace = 2 * time.Second
)

type ControllerOption func(*Controller)

// WithOutput sets where the agent's terminal output is copied to.
func WithOutput(w io.Writer) ControllerOption {
	return func(c *Controller) {
		c.output = w
	}
}

func WithTerm(term string) ControllerOption {
	return func(c *Controller) {
		c.term = term
	}
}

// WithEnv adds variables to the environment inherited by the process.
func WithEnv(env ...string) ControllerOption {
	return func(c *Controller) {
		c.env = append(c.env, env...)
	}
}

func WithDir(dir string) ControllerOption {
	return func(c *Controller) {
		c.dir = dir
	}
}

func WithWindowSize(rows, cols uint16) ControllerOption {
	return func(c *Controller) {
		c.size = &pty.Winsize{Rows: rows, Cols: cols}
	}
}

// WithWriteTimeout bounds how long a write may wait for the terminal to
// accept it. Zero waits forever.
func WithWriteTimeout(timeout time.Duration) ControllerOption {
	return func(c *Controller) {
		c.writeTimeout = timeout
	}
}

// WithTerminateGrace sets how long a process gets between SIGTERM and
// SIGKILL.
func WithTerminateGrace(grace time.Duration) ControllerOption {
	return func(c *Controller) {
		c.terminateGrace = grace
	}
}

// Controller owns one agent process running behind a pseudo-terminal. Start
// acquires it, Close releases it and Restart replaces it with a fresh one.
// All input to the process goes through a single write lock, so deliveries
// never interleave.
type Controller struct {
	command        []string
	dir            string
	env            []string
	term           string
	output         io.Writer
	writeTimeout   time.Duration
	terminateGrace time.Duration

	writeMu sync.Mutex

	mu     sync.Mutex
	size   *pty.Winsize
	proc   *process
	closed bool
}

// process is one generation of the agent.
type process struct {
	cmd      *exec.Cmd
	pty      *os.File
	exited   chan struct{}
	copyDone chan struct{}
	stalled  bool
}

func (p *process) alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return !p.stalled
	}
}

func NewController(command []string, opts ...ControllerOption) (*Controller, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, fmt.Errorf("no agent command configured")
	}

	c := &Controller{
		command:        append([]string(nil), command...),
		term:           DefaultTerm,
		output:         io.Discard,
		writeTimeout:   DefaultWriteTimeout,
		terminateGrace: DefaultTerminateGrace,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start launches the agent process.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("%w: controller closed", ErrSessionFault)
	}
	if c.proc != nil {
		return fmt.Errorf("session already started")
	}
	return c.startLocked(ctx)
}

func (c *Controller) startLocked(ctx context.Context) error {
	_, span := tracer.Start(ctx, "start agent")
	defer span.End()
	span.SetAttributes(attribute.String("session.command", c.command[0]))

	cmd := exec.Command(c.command[0], c.command[1:]...)
	cmd.Dir = c.dir
	cmd.Env = append(append(os.Environ(), c.env...), "TERM="+c.term)

	f, err := pty.StartWithSize(cmd, c.size)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start agent")
		return fmt.Errorf("%w: failed to start %s: %w", ErrSessionFault, c.command[0], err)
	}

	p := &process{
		cmd:      cmd,
		pty:      f,
		exited:   make(chan struct{}),
		copyDone: make(chan struct{}),
	}
	go func() {
		defer close(p.copyDone)
		// Reading fails with EIO once the process side is gone.
		_, _ = io.Copy(c.output, f)
	}()
	go func() {
		err := cmd.Wait()
		logger.Info("agent exited", "pid", cmd.Process.Pid, "error", err)
		close(p.exited)
	}()

	c.proc = p
	logger.Info("agent started", "pid", cmd.Process.Pid, "command", c.command)
	return nil
}

func (c *Controller) current() *process {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proc
}

// IsAlive reports whether the current process is running and accepting
// input.
func (c *Controller) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proc != nil && c.proc.alive()
}

// Exited is closed when the current process generation exits. Before the
// first Start it is already closed.
func (c *Controller) Exited() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return c.proc.exited
}

// ExitCode is the exit code of the current process, or -1 while it runs.
func (c *Controller) ExitCode() int {
	p := c.current()
	if p == nil {
		return -1
	}
	select {
	case <-p.exited:
		return p.cmd.ProcessState.ExitCode()
	default:
		return -1
	}
}

// SendText types text into the session. It returns once the terminal
// accepted the bytes, not once the agent acted on them.
func (c *Controller) SendText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return c.write(ctx, []byte(text))
}

// SendControlKey types the byte sequence of a named key.
func (c *Controller) SendControlKey(ctx context.Context, name string) error {
	sequence, err := KeySequence(name)
	if err != nil {
		return err
	}
	return c.write(ctx, sequence)
}

// WriteInput forwards raw keyboard input to the session.
func (c *Controller) WriteInput(data []byte) error {
	return c.write(context.Background(), data)
}

func (c *Controller) write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	p := c.current()
	if p == nil {
		return fmt.Errorf("%w: session not started", ErrSessionFault)
	}
	if !p.alive() {
		return fmt.Errorf("%w: agent is not running", ErrSessionFault)
	}

	written := make(chan error, 1)
	go func() {
		_, err := p.pty.Write(data)
		written <- err
	}()

	var timeout <-chan time.Time
	if c.writeTimeout > 0 {
		timer := time.NewTimer(c.writeTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-written:
		if err != nil {
			return fmt.Errorf("%w: write failed: %w", ErrSessionFault, err)
		}
		return nil
	case <-p.exited:
		return fmt.Errorf("%w: agent exited during write", ErrSessionFault)
	case <-timeout:
		c.markStalled(p)
		return fmt.Errorf("%w: terminal did not accept input within %s", ErrSessionFault, c.writeTimeout)
	case <-ctx.Done():
		// The write may still land; the session can no longer be trusted.
		c.markStalled(p)
		return fmt.Errorf("%w: %w", ErrSessionFault, ctx.Err())
	}
}

func (c *Controller) markStalled(p *process) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.stalled = true
}

// Resize sets the terminal window size of the current and future processes.
func (c *Controller) Resize(rows, cols uint16) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	c.size = &pty.Winsize{Rows: rows, Cols: cols}
	p := c.proc
	c.mu.Unlock()

	if p == nil || !p.alive() {
		return nil
	}
	if err := pty.Setsize(p.pty, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("failed to resize terminal: %w", err)
	}
	return nil
}

// Restart terminates the current process, discards its unread input and
// starts a fresh one.
func (c *Controller) Restart(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "restart agent")
	defer span.End()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("%w: controller closed", ErrSessionFault)
	}
	if c.proc != nil {
		c.terminate(ctx, c.proc)
		c.proc = nil
	}
	if err := c.startLocked(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to restart agent")
		return err
	}
	return nil
}

// Close terminates the process and releases the terminal. It is safe to call
// more than once.
func (c *Controller) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.proc != nil {
		c.terminate(context.Background(), c.proc)
		c.proc = nil
	}
	return nil
}

func (c *Controller) terminate(ctx context.Context, p *process) {
	pid := p.cmd.Process.Pid
	select {
	case <-p.exited:
	default:
		// The agent leads its own session, signal the whole process group.
		if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
			_ = p.cmd.Process.Signal(unix.SIGTERM)
		}

		grace := time.NewTimer(c.terminateGrace)
		select {
		case <-p.exited:
		case <-grace.C:
			logger.Warn("agent ignored SIGTERM, killing it", "pid", pid)
		case <-ctx.Done():
		}
		grace.Stop()

		select {
		case <-p.exited:
		default:
			if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
				_ = p.cmd.Process.Kill()
			}
			<-p.exited
		}
	}

	if err := flushInput(p.pty); err != nil {
		logger.Debug("failed to flush terminal input", "error", err)
	}
	if err := p.pty.Close(); err != nil {
		logger.Debug("failed to close terminal", "error", err)
	}
	<-p.copyDone
}
