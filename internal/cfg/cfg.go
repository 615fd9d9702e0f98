package cfg

const (
	// Recorder
	RECORDER_QUEUE_SIZE    = 512 // pending events before drop-oldest kicks in
	RECORDER_CLOSE_TIMEOUT = 2   // grace period to drain the queue on close. Unit in seconds

	// Pty
	PTY_READ_BUFFER_SIZE = 4096 // chunk size for pty master and stdin reads
	PTY_DRAIN_TIMEOUT    = 1    // wait for pending pty output after child exit. Unit in seconds
	PTY_DEFAULT_COLS     = 80   // fallback size when not running under a tty
	PTY_DEFAULT_ROWS     = 24

	// Session
	SESSION_ENVPREFIX = "recast"             // env prefix: RECAST_NO_RECORD, RECAST_RECORDING_DIR
	SESSION_DIR_NAME  = ".recast/recordings" // default base dir, relative to the user home
	SESSION_LOG_FILE  = "/tmp/recast.log"
)
