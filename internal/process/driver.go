// Package process runs an interactive command on a pseudo-terminal, answers
// its password prompt and supervises it until its output is exhausted.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/kebairia/xbauto/internal/logger"
)

const (
	DefaultPrompt           = "Enter password"
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultKillGrace        = 5 * time.Second

	readBufferSize = 32 * 1024
	// maxHandshakeBuffer bounds what is kept while looking for the prompt.
	maxHandshakeBuffer = 64 * 1024
)

// State is the position of a supervised process in its lifecycle.
type State int

const (
	StateAwaitingPrompt State = iota
	StateHandshaking
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingPrompt:
		return "awaiting-prompt"
	case StateHandshaking:
		return "handshaking"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option lets you override default settings on a Driver.
type Option func(*Driver)

// Driver spawns commands that ask for a password on their terminal.
type Driver struct {
	prompt           string
	handshakeTimeout time.Duration
	killGrace        time.Duration
	output           io.Writer
	log              logger.Logger
}

// NewDriver returns a Driver with default prompt and timeout plus any overrides.
func NewDriver(opts ...Option) *Driver {
	d := &Driver{
		prompt:           DefaultPrompt,
		handshakeTimeout: DefaultHandshakeTimeout,
		killGrace:        DefaultKillGrace,
		output:           io.Discard,
		log:              logger.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WithPrompt overrides the text that marks the password prompt.
func WithPrompt(prompt string) Option {
	return func(d *Driver) {
		if prompt != "" {
			d.prompt = prompt
		}
	}
}

// WithHandshakeTimeout overrides how long to wait for the prompt.
// It does not bound the total run time.
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		if timeout > 0 {
			d.handshakeTimeout = timeout
		}
	}
}

// WithKillGrace overrides how long an abandoned process group gets to exit
// after hangup and terminate before it is killed.
func WithKillGrace(grace time.Duration) Option {
	return func(d *Driver) {
		if grace > 0 {
			d.killGrace = grace
		}
	}
}

// WithOutput mirrors everything the process prints after the handshake to w.
func WithOutput(w io.Writer) Option {
	return func(d *Driver) {
		if w != nil {
			d.output = w
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(d *Driver) {
		if log != nil {
			d.log = log
		}
	}
}

type chunk struct {
	data []byte
	err  error
}

// session tracks one spawned process and its terminal.
type session struct {
	name   string
	cmd    *exec.Cmd
	ptmx   *os.File
	state  State
	done   chan struct{}
	waited bool
}

// Run executes name with args, writes secret followed by a newline once the
// prompt appears and then drains the output until end of stream. Only the
// handshake honours ctx and the handshake timeout; once the secret is sent
// Run waits for the process however long it takes. A non-zero exit status is
// returned as *ExitError.
func (d *Driver) Run(ctx context.Context, name string, args []string, secret string) error {
	cmd := exec.Command(name, args...)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	s := &session{name: name, cmd: cmd, ptmx: ptmx, done: make(chan struct{})}
	defer d.close(s)

	if err := disableEcho(ptmx); err != nil {
		d.log.Debug("could not disable terminal echo", "error", err.Error())
	}
	d.log.Info("child process created", "pid", cmd.Process.Pid, "command", name)

	chunks := readChunks(ptmx, s.done)

	if err := d.handshake(ctx, s, chunks, secret); err != nil {
		return err
	}

	d.log.Info("waiting for child process to finish", "pid", cmd.Process.Pid)
	if err := d.drain(s, chunks); err != nil {
		return err
	}
	return d.wait(s)
}

func (d *Driver) transition(s *session, next State) {
	d.log.Trace("child process state", "pid", s.cmd.Process.Pid, "from", s.state.String(), "to", next.String())
	s.state = next
}

func (d *Driver) handshake(ctx context.Context, s *session, chunks <-chan chunk, secret string) error {
	timer := time.NewTimer(d.handshakeTimeout)
	defer timer.Stop()

	prompt := []byte(d.prompt)
	var seen []byte
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				d.log.Debug("output before close", "output", string(seen))
				if err := d.wait(s); err != nil {
					return fmt.Errorf("%w: %v", ErrPromptMissing, err)
				}
				return ErrPromptMissing
			}
			if c.err != nil {
				return fmt.Errorf("%w: %v", ErrStream, c.err)
			}
			seen = append(seen, c.data...)
			idx := bytes.Index(seen, prompt)
			if idx < 0 {
				if len(seen) > maxHandshakeBuffer {
					seen = seen[len(seen)-len(prompt):]
				}
				continue
			}

			d.transition(s, StateHandshaking)
			if _, err := io.WriteString(s.ptmx, secret+"\n"); err != nil {
				return fmt.Errorf("send password: %w", err)
			}
			d.transition(s, StateDraining)
			d.mirror(seen[idx+len(prompt):])
			return nil

		case <-timer.C:
			d.log.Error("timed out waiting for password prompt",
				"pid", s.cmd.Process.Pid,
				"timeout", d.handshakeTimeout.String(),
			)
			return fmt.Errorf("%w after %s", ErrHandshakeTimeout, d.handshakeTimeout)

		case <-ctx.Done():
			return fmt.Errorf("handshake aborted: %w", ctx.Err())
		}
	}
}

// drain copies output until the terminal reports end of stream. The backup
// tool is not reliable about signalling completion any other way.
func (d *Driver) drain(s *session, chunks <-chan chunk) error {
	for c := range chunks {
		if c.err != nil {
			d.log.Error("unexpected error reading child process output", "error", c.err.Error())
			return fmt.Errorf("%w: %v", ErrStream, c.err)
		}
		d.mirror(c.data)
	}
	return nil
}

func (d *Driver) mirror(data []byte) {
	if len(data) == 0 {
		return
	}
	// Mirroring is best effort.
	_, _ = d.output.Write(data)
}

func (d *Driver) wait(s *session) error {
	if s.waited {
		return nil
	}
	err := s.cmd.Wait()
	s.waited = true
	d.transition(s, StateClosed)
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Command: s.name, Code: exitErr.ExitCode()}
	}
	return fmt.Errorf("wait for %s: %w", s.name, err)
}

// close releases the terminal and reaps the process on every exit path.
func (d *Driver) close(s *session) {
	d.log.Info("closing child process", "pid", s.cmd.Process.Pid)
	close(s.done)
	_ = s.ptmx.Close()
	if !s.waited {
		d.terminate(s)
		s.waited = true
		d.transition(s, StateClosed)
	}
}

// terminate stops the process group the child leads. Hangup and terminate
// come first so a wrapper such as sudo can relay them to the real command;
// whatever is left of the group after the grace period is killed.
func (d *Driver) terminate(s *session) {
	pid := s.cmd.Process.Pid
	exited := make(chan struct{})
	go func() {
		_ = s.cmd.Wait()
		close(exited)
	}()

	for _, sig := range []syscall.Signal{syscall.SIGHUP, syscall.SIGTERM} {
		if err := signalGroup(s.cmd.Process, sig); err != nil {
			d.log.Debug("could not signal child process group", "pid", pid, "signal", sig.String(), "error", err.Error())
		}
	}

	select {
	case <-exited:
	case <-time.After(d.killGrace):
		d.log.Warn("child process ignored termination, killing", "pid", pid, "grace", d.killGrace.String())
	}
	_ = signalGroup(s.cmd.Process, syscall.SIGKILL)
	<-exited
}

// readChunks reads r until end of stream and delivers what it read on the
// returned channel, which is closed afterwards.
func readChunks(r io.Reader, done <-chan struct{}) <-chan chunk {
	ch := make(chan chunk, 16)
	go func() {
		defer close(ch)
		buf := make([]byte, readBufferSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case ch <- chunk{data: data}:
				case <-done:
					return
				}
			}
			if err != nil {
				if endOfStream(err) {
					return
				}
				select {
				case ch <- chunk{err: err}:
				case <-done:
				}
				return
			}
		}
	}()
	return ch
}

// endOfStream reports whether err marks the end of a terminal's output. Linux
// returns EIO on the master side once the slave side is closed.
func endOfStream(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.EIO) ||
		errors.Is(err, os.ErrClosed)
}
