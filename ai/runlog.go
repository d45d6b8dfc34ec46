package ai

import (
	"fmt"
	"strings"
	"time"
)

// runLog collects timestamped progress lines for one AI run. The rendered
// text is stored on the iteration so users can inspect what happened.
type runLog struct {
	now   func() time.Time
	lines []string
}

func newRunLog(now func() time.Time) *runLog {
	if now == nil {
		now = time.Now
	}
	return &runLog{now: now}
}

func (l *runLog) add(msg string) {
	l.lines = append(l.lines, fmt.Sprintf("[%s] %s", l.now().UTC().Format(time.RFC3339), msg))
}

func (l *runLog) addf(format string, args ...any) {
	l.add(fmt.Sprintf(format, args...))
}

func (l *runLog) String() string {
	return strings.Join(l.lines, "\n")
}
