/*
Log setup for recast.
Diagnostics always go to a file, never to the terminal: once a session is
running the wrapped command owns stdout/stderr and a stray log line would
corrupt its display.
*/
package logging

import (
	"io/ioutil"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

func Config(dest, prefix string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		log.SetOutput(ioutil.Discard)
		return
	}
	f, err := os.OpenFile(dest, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		// An unopenable log file is never a reason to refuse to run,
		// but logging to stderr mid-session is not an option either
		log.SetOutput(ioutil.Discard)
		return
	}
	log.SetOutput(f)
	if prefix != "" {
		log.AddHook(&prefixHook{prefix: prefix})
	}
}

// prefixHook tags every entry with the program section that logged it
type prefixHook struct {
	prefix string
}

func (h *prefixHook) Levels() []log.Level {
	return log.AllLevels
}

func (h *prefixHook) Fire(entry *log.Entry) error {
	entry.Data["prefix"] = h.prefix
	return nil
}
