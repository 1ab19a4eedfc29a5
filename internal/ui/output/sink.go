// Package output implements the aggregated output sink for task streams.
package output

import (
	"fmt"
	"io"
	"sync"
)

// Sink serializes whole lines from concurrent subprocesses. Lines are never
// interleaved mid-line; each is written with its vertex prefix.
type Sink struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
	quiet  bool
}

// New creates a Sink writing task stdout and stderr to the given writers.
func New(stdout, stderr io.Writer) *Sink {
	return &Sink{stdout: stdout, stderr: stderr}
}

// NewQuiet creates a Sink that swallows task output. Used with --json.
func NewQuiet() *Sink {
	return &Sink{quiet: true}
}

// Line writes one output line with its prefix.
func (s *Sink) Line(prefix, line string, isStderr bool) {
	if s.quiet {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.stdout
	if isStderr {
		w = s.stderr
	}
	_, _ = fmt.Fprintf(w, "%s%s\n", prefix, line)
}
