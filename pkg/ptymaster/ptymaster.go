/*
Wrapper around the pty (https://dev.to/napicella/linux-terminals-tty-pty-and-shell-192e)
Used to run the wrapped command with a real controlling terminal while
intercepting everything that crosses it.

The relay fans the pty master out three ways: bytes from the child are
mirrored to the real terminal and copied to the recorder, bytes typed by
the user go to the child and to the recorder, and window-size changes
are applied to the pty and recorded as resize events. SIGWINCH itself
only posts a notification; the actual ioctl and recording happen on the
watcher loop, never inside a signal handler.
*/
package ptymaster

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	ptyDevice "github.com/creack/pty"
	log "github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/qnkhuat/recast/internal/cfg"
	"github.com/qnkhuat/recast/pkg/message"
)

// ErrAllocation reports that no pty resource was available. The caller
// is expected to fall back to plain execution without instrumentation
var ErrAllocation = errors.New("pty allocation failed")

// EventSink receives a copy of every chunk and resize the relay observes
type EventSink interface {
	WriteEvent(t message.EventType, data []byte)
}

type PtyMaster struct {
	command           []string
	cmd               *exec.Cmd
	f                 *os.File
	terminalInitState *term.State

	// In and Out are the user-facing terminal endpoints. They default
	// to os.Stdin/os.Stdout and are only swapped out by tests
	In  io.Reader
	Out io.Writer

	// sizeFn queries the current terminal dimensions
	sizeFn func() (cols, rows int)

	winch      chan os.Signal
	sigc       chan os.Signal
	stop       chan struct{}
	stopOnce   sync.Once
	outputDone chan struct{}
}

func New(command []string) *PtyMaster {
	pty := &PtyMaster{
		command:    command,
		In:         os.Stdin,
		Out:        os.Stdout,
		winch:      make(chan os.Signal, 1),
		sigc:       make(chan os.Signal, 1),
		stop:       make(chan struct{}),
		outputDone: make(chan struct{}),
	}
	pty.sizeFn = func() (int, int) { return TerminalSize(pty.In) }
	return pty
}

// F exposes the master descriptor
func (pty *PtyMaster) F() *os.File {
	return pty.f
}

// Start spawns the command with the pty slave as its controlling
// terminal, sized to the user's terminal. Nothing is left half-started:
// on failure there is no child and no descriptor to clean up
func (pty *PtyMaster) Start() error {
	pty.cmd = exec.Command(pty.command[0], pty.command[1:]...)
	pty.cmd.Env = os.Environ()

	cols, rows := pty.sizeFn()
	f, err := ptyDevice.StartWithSize(pty.cmd, &ptyDevice.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAllocation, err)
	}
	pty.f = f
	return nil
}

// Relay starts the forwarding loops. It returns immediately; Wait
// blocks until the child exits. No relay error ever aborts a live
// child, broken endpoints just end their own loop
func (pty *PtyMaster) Relay(sink EventSink) {
	// Child output -> user terminal + recorder
	go func() {
		defer close(pty.outputDone)
		buf := make([]byte, cfg.PTY_READ_BUFFER_SIZE)
		for {
			n, err := pty.f.Read(buf)
			if n > 0 {
				if _, werr := pty.Out.Write(buf[:n]); werr != nil {
					log.Printf("Failed to mirror output: %s", werr)
					return
				}
				if sink != nil {
					sink.WriteEvent(message.EOut, buf[:n])
				}
			}
			if err != nil {
				// EIO is how the master reports that the child
				// exited and the slave closed. Ordinary end of session
				return
			}
		}
	}()

	// User input -> child + recorder
	go func() {
		buf := make([]byte, cfg.PTY_READ_BUFFER_SIZE)
		for {
			n, err := pty.In.Read(buf)
			if n > 0 {
				if _, werr := pty.f.Write(buf[:n]); werr != nil {
					log.Printf("Failed to forward input: %s", werr)
					return
				}
				if sink != nil {
					sink.WriteEvent(message.EIn, buf[:n])
				}
			}
			if err != nil {
				return
			}
		}
	}()

	// Resize watcher: SIGWINCH posts a notification, this loop does
	// the query/apply/record work
	signal.Notify(pty.winch, syscall.SIGWINCH)
	go func() {
		for {
			select {
			case <-pty.stop:
				return
			case <-pty.winch:
				cols, rows := pty.sizeFn()
				if err := ptyDevice.Setsize(pty.f, &ptyDevice.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
					log.Printf("Failed to resize pty: %s", err)
					continue
				}
				if sink != nil {
					sink.WriteEvent(message.EResize, []byte(message.ResizeData(cols, rows)))
				}
			}
		}
	}()

	// Keep the proxy transparent: termination aimed at us goes to the
	// child. Ctrl-C travels in-band while the terminal is raw, so only
	// SIGTERM matters here
	signal.Notify(pty.sigc, syscall.SIGTERM)
	go func() {
		for {
			select {
			case <-pty.stop:
				return
			case s := <-pty.sigc:
				if pty.cmd.Process != nil {
					pty.cmd.Process.Signal(s)
				}
			}
		}
	}()
}

// Wait blocks until the child exits and the last of its output has been
// relayed, then returns its exit status using the shell convention
// (128+signal for signal deaths)
func (pty *PtyMaster) Wait() int {
	err := pty.cmd.Wait()

	// The master keeps delivering buffered output briefly after the
	// child is gone. Bounded so a grandchild holding the slave open
	// can't hang us
	select {
	case <-pty.outputDone:
	case <-time.After(cfg.PTY_DRAIN_TIMEOUT * time.Second):
	}

	return ExitStatus(err)
}

// Stop releases everything the pty owns: signal watchers, the master
// descriptor and the user's terminal state. Safe to call more than once
func (pty *PtyMaster) Stop() {
	pty.stopOnce.Do(func() {
		signal.Stop(pty.winch)
		signal.Stop(pty.sigc)
		close(pty.stop)
		if pty.f != nil {
			pty.f.Close()
		}
		pty.Restore()
	})
}

// MakeRaw puts the user's terminal in raw mode so control characters
// reach the child unmangled. A non-tty stdin (pipes, CI) is fine, the
// session just runs without raw mode
func (pty *PtyMaster) MakeRaw() {
	f, ok := pty.In.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return
	}
	oldState, err := term.MakeRaw(int(f.Fd()))
	if err != nil {
		log.Printf("Failed to set raw mode: %s", err)
		return
	}
	pty.terminalInitState = oldState
}

func (pty *PtyMaster) Restore() {
	if pty.terminalInitState == nil {
		return
	}
	if f, ok := pty.In.(*os.File); ok {
		term.Restore(int(f.Fd()), pty.terminalInitState)
	}
	pty.terminalInitState = nil
}

// TerminalSize returns the dimensions of the given terminal, falling
// back to 80x24 when it is not a tty (CI, pipes, tests)
func TerminalSize(in io.Reader) (cols, rows int) {
	f, ok := in.(*os.File)
	if !ok {
		return cfg.PTY_DEFAULT_COLS, cfg.PTY_DEFAULT_ROWS
	}
	cols, rows, err := term.GetSize(int(f.Fd()))
	if err != nil || cols <= 0 || rows <= 0 {
		return cfg.PTY_DEFAULT_COLS, cfg.PTY_DEFAULT_ROWS
	}
	return cols, rows
}

// ExitStatus maps a Wait error to a process exit code
func ExitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		return exitErr.ExitCode()
	}
	return 1
}
