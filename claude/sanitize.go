package claude

import (
	"regexp"
	"strings"
	"sync"
)

const (
	// MaxErrorTail bounds the diagnostic text surfaced to users.
	MaxErrorTail = 800
	// stderrBufferLimit bounds how much stderr is retained per process.
	stderrBufferLimit = 64 * 1024
)

var redactions = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-._~+/]+=*`), "${1}[redacted]"},
	{regexp.MustCompile(`\b(?:sk|pk|rk)-[A-Za-z0-9_\-]{8,}`), "[redacted]"},
	{regexp.MustCompile(`\b(?:ghp|gho|ghs|github_pat|xox[abpr])_[A-Za-z0-9_\-]{8,}`), "[redacted]"},
	{regexp.MustCompile(`(?i)((?:api[_-]?key|token|secret|passw(?:or)?d)\s*[=:]\s*)\S+`), "${1}[redacted]"},
	// Absolute paths only: a path must not continue a word, number or URL.
	{regexp.MustCompile(`(^|[^\w.~\\/:])(?:[A-Za-z]:)?(?:[\\/][\w.\-@~+]+){2,}[\\/]?`), "${1}[path]"},
	{regexp.MustCompile(`~[\\/][\w.\-@~+/\\]*`), "[path]"},
}

// Sanitize removes credentials and filesystem paths from diagnostic text
// before it is shown in a chat.
func Sanitize(s string) string {
	for _, r := range redactions {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

// errorTail returns the sanitized last MaxErrorTail bytes of s, starting at a
// line boundary when one is available.
func errorTail(s string) string {
	s = strings.TrimSpace(Sanitize(s))
	if len(s) <= MaxErrorTail {
		return s
	}
	s = s[len(s)-MaxErrorTail:]
	if i := strings.IndexByte(s, '\n'); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	return "…" + strings.ToValidUTF8(s, "")
}

// tailBuffer is an io.Writer that keeps only the last limit bytes written.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
