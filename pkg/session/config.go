package session

import (
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"

	"github.com/qnkhuat/recast/internal/cfg"
)

// Config is the environment side of the recording policy. Explicit
// Options always win over the environment
type Config struct {
	// Any non-empty value disables recording, mirroring how operators
	// usually export opt-out switches (NO_RECORD=1, NO_RECORD=yes, ...)
	NoRecord string `envconfig:"NO_RECORD"`

	// Base directory for recordings. Defaults to ~/.recast/recordings
	RecordingDir string `envconfig:"RECORDING_DIR"`
}

// LoadConfig reads RECAST_* variables and fills in defaults. It never
// fails: a broken environment just means default behavior
func LoadConfig() Config {
	var c Config
	if err := envconfig.Process(cfg.SESSION_ENVPREFIX, &c); err != nil {
		log.Printf("Failed to read environment config: %s", err)
	}
	if c.RecordingDir == "" {
		c.RecordingDir = defaultRecordingDir()
	}
	return c
}

func defaultRecordingDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// No home (some daemons, containers): keep recordings somewhere
		// writable rather than disabling them
		return filepath.Join(os.TempDir(), "recast-recordings")
	}
	return filepath.Join(home, cfg.SESSION_DIR_NAME)
}
