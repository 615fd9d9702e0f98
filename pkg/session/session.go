/*
Session recording orchestration.

A session walks an explicit set of states:

	INIT -> DISABLED -> DONE          opt-out, plain passthrough
	INIT -> RECORDING -> DONE         pty + recording
	INIT -> ALLOC_FAILED -> DONE      no pty available, passthrough

DONE is always reached, and nothing that goes wrong on the recording
side may change what the wrapped command sees or what exit status the
caller gets back. The worst possible outcome of a recording failure is a
missing or partial .cast file plus a warning on stderr.
*/
package session

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/qnkhuat/recast/pkg/message"
	"github.com/qnkhuat/recast/pkg/ptymaster"
	"github.com/qnkhuat/recast/pkg/recorder"
)

// Metadata identifies whose session this is. Provided by the caller
// (the CLI layer that resolved the agent), immutable once the session
// is created
type Metadata struct {
	AgentName string
	AgentID   string
	User      string
	SessionID string
}

// Options is the per-invocation recording policy
type Options struct {
	// Disabled skips pty instrumentation and recording entirely
	Disabled bool

	// BaseDir overrides the recording directory. Empty means take it
	// from RECAST_RECORDING_DIR or the per-user default
	BaseDir string

	// Title for the recording header. Empty means "<user>@<agent>"
	Title string
}

// Result is what a finished session reports back
type Result struct {
	// RecordingPath is empty when no recording was produced
	RecordingPath string
	ExitCode      int
}

type state int

const (
	stateInit state = iota
	stateDisabled
	stateRecording
	stateAllocFailed
	stateDone
)

// Test seam for forcing allocation failures
var ptyStart = (*ptymaster.PtyMaster).Start

type Session struct {
	command []string
	meta    Metadata
	opts    Options
	path    string
	state   state
}

// New prepares a session: fills metadata defaults, resolves the
// recording policy from options and environment, and computes the
// recording path. Nothing is touched on disk yet
func New(command []string, meta Metadata, opts Options) *Session {
	config := LoadConfig()
	if config.NoRecord != "" {
		opts.Disabled = true
	}
	if opts.BaseDir == "" {
		opts.BaseDir = config.RecordingDir
	}
	if meta.AgentName == "" {
		meta.AgentName = "unknown"
	}
	if meta.User == "" {
		if u, err := user.Current(); err == nil {
			meta.User = u.Username
		}
	}
	if meta.SessionID == "" {
		meta.SessionID = shortID()
	}

	return &Session{
		command: command,
		meta:    meta,
		opts:    opts,
		path:    RecordingPath(opts.BaseDir, meta.AgentName, time.Now(), meta.SessionID),
		state:   stateInit,
	}
}

// RecordingPath returns <base>/<YYYY-MM-DD>/<agent>_<YYYYMMDD-HHMMSS>_<id>.cast
func RecordingPath(baseDir, agentName string, now time.Time, sessionID string) string {
	dateDir := now.Format("2006-01-02")
	name := fmt.Sprintf("%s_%s_%s.cast", agentName, now.Format("20060102-150405"), sessionID)
	return filepath.Join(baseDir, dateDir, name)
}

// Path returns where the recording will be (or would have been) written
func (s *Session) Path() string {
	return s.path
}

// Run executes the wrapped command and returns the recording path (if
// any) and the child's exit status
func (s *Session) Run() Result {
	if s.opts.Disabled {
		s.state = stateDisabled
		code := Passthrough(s.command)
		s.state = stateDone
		return Result{ExitCode: code}
	}

	cols, rows := ptymaster.TerminalSize(os.Stdin)
	w, err := recorder.Open(s.path, s.buildHeader(cols, rows))
	if err != nil {
		// Base dir unwritable: session continues, just unrecorded
		log.Printf("Failed to open recording %s: %s", s.path, err)
		warnf("cannot write recording (%s), session will not be recorded", err)
		code := Passthrough(s.command)
		s.state = stateDone
		return Result{ExitCode: code}
	}
	defer w.Close()

	pty := ptymaster.New(s.command)
	if err := ptyStart(pty); err != nil {
		// No pty resource: fall back to direct execution. The file is
		// removed because a recording exists only when the pty came up
		s.state = stateAllocFailed
		log.Printf("Pty allocation failed: %s", err)
		warnf("pty allocation failed, session will not be recorded")
		w.Close()
		os.Remove(s.path)
		code := Passthrough(s.command)
		s.state = stateDone
		return Result{ExitCode: code}
	}
	s.state = stateRecording
	defer pty.Stop()

	pty.MakeRaw()
	pty.Relay(w)
	code := pty.Wait()
	pty.Stop() // restore the terminal before writing notices

	if err := w.Close(); err != nil {
		log.Printf("Failed to close recording %s: %s", s.path, err)
	}
	if lost := w.Dropped() + w.WriteErrors(); lost > 0 {
		warnf("%d events lost, recording is incomplete: %s", lost, s.path)
	}
	fmt.Fprintf(os.Stderr, "\033[32mSession recorded to: %s\033[0m\n", s.path)

	s.state = stateDone
	return Result{RecordingPath: s.path, ExitCode: code}
}

func (s *Session) buildHeader(cols, rows int) message.Header {
	// Only a fixed allowlist of environment variables goes into the
	// header, the rest of the environment may hold secrets
	env := map[string]string{}
	if shell := os.Getenv("SHELL"); shell != "" {
		env["SHELL"] = shell
	}
	termName := os.Getenv("TERM")
	if termName == "" {
		termName = "xterm-256color"
	}
	env["TERM"] = termName

	title := s.opts.Title
	if title == "" {
		title = fmt.Sprintf("%s@%s", s.meta.User, s.meta.AgentName)
	}

	return message.Header{
		Version:   message.Version,
		Width:     cols,
		Height:    rows,
		Timestamp: time.Now().Unix(),
		Env:       env,
		Title:     title,
		AgentName: s.meta.AgentName,
		AgentID:   s.meta.AgentID,
		User:      s.meta.User,
		SessionID: s.meta.SessionID,
	}
}

func shortID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
}

func warnf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[33mrecast: "+format+"\033[0m\n", args...)
}
