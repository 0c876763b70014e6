package llm

import (
	"bufio"
	"io"
	"strings"
)

const sseDone = "[DONE]"

// serverSentEventScanner reads the data payloads of Server-Sent Events.
type serverSentEventScanner struct {
	scanner *bufio.Scanner
	data    string
}

// newServerSentEventScanner creates a new SSE scanner.
func newServerSentEventScanner(r io.Reader) *serverSentEventScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &serverSentEventScanner{scanner: s}
}

// Scan advances to the next data line, skipping comments, blank lines and
// other fields. It returns false at end of input.
func (s *serverSentEventScanner) Scan() bool {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		s.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if s.data == "" {
			continue
		}
		return true
	}
	return false
}

// Data returns the payload of the last scanned data line.
func (s *serverSentEventScanner) Data() string {
	return s.data
}

// Done reports whether the last payload was the terminal sentinel.
func (s *serverSentEventScanner) Done() bool {
	return s.data == sseDone
}

// Err returns the first non-EOF read error.
func (s *serverSentEventScanner) Err() error {
	return s.scanner.Err()
}
