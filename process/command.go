package process

import (
	"io"
	"time"
)

const defaultGracePeriod = 5 * time.Second

// Command configures a subprocess.
type Command struct {
	// Binary is an executable path or a name resolved through PATH.
	Binary string
	Args   []string
	Dir    string
	// Env entries (KEY=value) are appended to the parent environment.
	Env   []string
	Stdin io.Reader
	// Stdout and Stderr receive output from children launched with Start.
	// Run always captures output into its Result instead.
	Stdout io.Writer
	Stderr io.Writer
	// GracePeriod is the wait between SIGTERM and SIGKILL. Defaults to 5s.
	GracePeriod time.Duration
}

func (c Command) grace() time.Duration {
	if c.GracePeriod <= 0 {
		return defaultGracePeriod
	}
	return c.GracePeriod
}

// Result holds the output of a finished subprocess.
type Result struct {
	Stdout []byte
	Stderr []byte
	// ExitCode is -1 when the process was killed by a signal.
	ExitCode int
	Duration time.Duration
}
