package pipeline

import (
	"fmt"
	"io"
	"log"
	"strings"

	"ringclock/internal/clock"
)

// TraceMode switches diagnostic tracing on or off.
type TraceMode int

const (
	// TraceOff emits nothing.
	TraceOff TraceMode = iota
	// TraceOn emits one line per pipeline transition.
	TraceOn
)

// String returns the string representation of TraceMode.
func (m TraceMode) String() string {
	switch m {
	case TraceOn:
		return "on"
	case TraceOff:
		return "off"
	default:
		return "unknown"
	}
}

// ParseTraceMode accepts "on"/"off" and the usual boolean spellings.
func ParseTraceMode(s string) (TraceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1", "verbose":
		return TraceOn, nil
	case "off", "false", "0", "silent", "":
		return TraceOff, nil
	default:
		return TraceOff, fmt.Errorf("invalid trace mode %q (expected on or off)", s)
	}
}

// Tracer receives human-readable diagnostics. It has no effect on control flow.
type Tracer interface {
	Eventf(rank int, format string, args ...interface{})
	Clock(rank int, vc clock.VectorClock)
}

// LogTracer writes diagnostics through a *log.Logger.
type LogTracer struct {
	logger *log.Logger
	mode   TraceMode
}

// NewLogTracer creates a tracer writing to w with the standard log flags.
// In TraceOff mode nothing is written.
func NewLogTracer(w io.Writer, mode TraceMode) *LogTracer {
	return &LogTracer{
		logger: log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		mode:   mode,
	}
}

// Eventf logs one transition of participant rank.
func (t *LogTracer) Eventf(rank int, format string, args ...interface{}) {
	if t == nil || t.mode != TraceOn {
		return
	}
	t.logger.Printf("[P%d] "+format, append([]interface{}{rank}, args...)...)
}

// Clock logs a clock snapshot of participant rank.
func (t *LogTracer) Clock(rank int, vc clock.VectorClock) {
	if t == nil || t.mode != TraceOn {
		return
	}
	t.logger.Printf("[P%d] clock: %s", rank, vc)
}

// NopTracer discards everything.
type NopTracer struct{}

// Eventf implements Tracer.
func (NopTracer) Eventf(int, string, ...interface{}) {}

// Clock implements Tracer.
func (NopTracer) Clock(int, clock.VectorClock) {}
