package session

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/qnkhuat/recast/pkg/ptymaster"
)

// Passthrough runs the command directly on the real stdio with no pty
// and no recording. Used when recording is opted out or instrumentation
// is unavailable; the observable behavior must match an uninstrumented
// run, including the exit status
func Passthrough(command []string) int {
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		log.Printf("Failed to start %s: %s", command[0], err)
		fmt.Fprintf(os.Stderr, "recast: %s\n", err)
		return 127
	}

	// Forward termination signals so the wrapper stays transparent
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case s := <-sigc:
				cmd.Process.Signal(s)
			}
		}
	}()

	err := cmd.Wait()
	close(done)
	signal.Stop(sigc)
	return ptymaster.ExitStatus(err)
}
