package queue

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

var (
	ansiPattern       = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)
	whitespacePattern = regexp.MustCompile(`[ \t]+`)

	// Progress-bar output repaints the same line and carries no durable
	// information; matching lines are dropped before storage.
	progressPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\s*\d{1,3}%\s*(\[[#=\->. ]*\])?`),
		regexp.MustCompile(`\[[#=\->. ]{5,}\]\s*\d{1,3}%`),
		regexp.MustCompile(`(?i)^(downloading|receiving|resolving|compressing|unpacking)\b.*\d{1,3}%`),
		regexp.MustCompile(`^[-\\|/]\s*$`),
	}
)

// CleanLine strips ANSI escapes and carriage returns, collapses runs of
// spaces and tabs, and trims the result. Returns "" for lines that reduce
// to nothing.
func CleanLine(line string) string {
	line = ansiPattern.ReplaceAllString(line, "")
	line = strings.ReplaceAll(line, "\r", "")
	line = whitespacePattern.ReplaceAllString(line, " ")
	return strings.TrimSpace(line)
}

// IsProgressLine reports whether a cleaned line matches a known
// progress-bar pattern.
func IsProgressLine(line string) bool {
	for _, p := range progressPatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

// CompactError reduces free-form worker error text to a single compact
// line bounded at max runes.
func CompactError(text string, max int) string {
	text = CleanLine(strings.ReplaceAll(text, "\n", " "))
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}

// deduper suppresses identical successive log lines per (jobID, stream)
// emitted within the suppression window.
type deduper struct {
	window time.Duration

	mu   sync.Mutex
	last map[string]dedupeEntry
}

type dedupeEntry struct {
	line string
	at   time.Time
}

func newDeduper(window time.Duration) *deduper {
	return &deduper{window: window, last: make(map[string]dedupeEntry)}
}

// allow reports whether the line should be stored, recording it as the
// latest for its key.
func (d *deduper) allow(jobID, stream, line string, now time.Time) bool {
	key := jobID + "\x00" + stream
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, ok := d.last[key]
	d.last[key] = dedupeEntry{line: line, at: now}
	if ok && prev.line == line && now.Sub(prev.at) < d.window {
		return false
	}
	return true
}
