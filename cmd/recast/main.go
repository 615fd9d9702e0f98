/*
recast — transparently record interactive terminal sessions.

	recast -agent web-01 -agent-id C.1234 -- ssh ops@web-01

The command after -- runs under a pseudo-terminal while recast mirrors
all traffic to the real terminal and appends it to an asciicast v2 file
under ~/.recast/recordings. recast always exits with the wrapped
command's exit status, and a recording failure never breaks the session.
*/
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/qnkhuat/recast/internal/cfg"
	"github.com/qnkhuat/recast/internal/logging"
	"github.com/qnkhuat/recast/pkg/session"
)

func main() {
	logging.Config(cfg.SESSION_LOG_FILE, "RECAST: ")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: recast [flags] -- command [args...]\n\nFlags:\n")
		flag.PrintDefaults()
	}

	var agent = flag.String("agent", "", "Agent name for the recording header")
	var agentID = flag.String("agent-id", "", "Agent identifier for the recording header")
	var userName = flag.String("user", "", "User name, defaults to the current user")
	var sessionID = flag.String("session", "", "Session id, generated when empty")
	var title = flag.String("title", "", "Recording title, defaults to user@agent")
	var dir = flag.String("dir", "", "Recording base directory, overrides RECAST_RECORDING_DIR")
	var noRecord = flag.Bool("no-record", false, "Run the command without a pty and without recording")

	flag.Parse()

	command := flag.Args()
	if len(command) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	s := session.New(command, session.Metadata{
		AgentName: *agent,
		AgentID:   *agentID,
		User:      *userName,
		SessionID: *sessionID,
	}, session.Options{
		Disabled: *noRecord,
		BaseDir:  *dir,
		Title:    *title,
	})

	os.Exit(s.Run().ExitCode)
}
