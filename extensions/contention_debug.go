package extensions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	atom "github.com/pumped-fn/pumped-atom"
)

const (
	defaultHistoryDepth = 16
	defaultMaxRegisters = 1024
)

type publishRecord struct {
	version uint64
	at      time.Time
}

type registerHistory struct {
	publishes *atom.Register[[]publishRecord]
	conflicts *atom.Register[int]
}

// ContentionDebugExtension logs a register's recent publication history
// when an update fails.
//
// Usage:
//
//	// Human-readable formatted output (with line breaks)
//	handler := extensions.NewHumanHandler(os.Stdout, slog.LevelError)
//	ext := extensions.NewContentionDebugExtension(handler)
//
//	// Structured JSON logging (compact, machine-readable)
//	handler := slog.NewJSONHandler(os.Stdout, nil)
//	ext := extensions.NewContentionDebugExtension(handler)
//
//	// Silent (for testing)
//	ext := extensions.NewContentionDebugExtension(extensions.NewSilentHandler())
//
// The extension logs at ERROR level.
type ContentionDebugExtension struct {
	atom.BaseExtension
	depth        int
	maxRegisters int
	history      sync.Map // register ID -> *registerHistory
	tracked      atomic.Int64
	logger       *slog.Logger
}

// NewContentionDebugExtension creates a new contention debug extension.
// logHandler: slog.Handler for logging (use HumanHandler for formatted output, or any other slog.Handler)
func NewContentionDebugExtension(logHandler slog.Handler) *ContentionDebugExtension {
	return &ContentionDebugExtension{
		BaseExtension: atom.NewBaseExtension("contention-debug"),
		depth:         defaultHistoryDepth,
		maxRegisters:  defaultMaxRegisters,
		logger:        slog.New(logHandler),
	}
}

// WithDepth sets how many publications are remembered per register
func (e *ContentionDebugExtension) WithDepth(depth int) *ContentionDebugExtension {
	if depth > 0 {
		e.depth = depth
	}
	return e
}

// WithMaxRegisters caps how many registers keep a history. Past the cap
// an arbitrary older history is evicted for each new register.
func (e *ContentionDebugExtension) WithMaxRegisters(n int) *ContentionDebugExtension {
	if n > 0 {
		e.maxRegisters = n
	}
	return e
}

func (e *ContentionDebugExtension) historyFor(reg atom.AnyRegister) *registerHistory {
	if h, ok := e.history.Load(reg.ID()); ok {
		return h.(*registerHistory)
	}
	h, loaded := e.history.LoadOrStore(reg.ID(), &registerHistory{
		publishes: atom.NewRegister[[]publishRecord](nil),
		conflicts: atom.NewRegister(0),
	})
	if !loaded && e.tracked.Add(1) > int64(e.maxRegisters) {
		e.evictExcept(reg.ID())
	}
	return h.(*registerHistory)
}

func (e *ContentionDebugExtension) evictExcept(keep string) {
	e.history.Range(func(k, _ any) bool {
		if k == keep {
			return true
		}
		if _, ok := e.history.LoadAndDelete(k); ok {
			e.tracked.Add(-1)
			return false
		}
		return true
	})
}

// Dispose drops every recorded history
func (e *ContentionDebugExtension) Dispose(scope *atom.Scope) error {
	e.history.Range(func(k, _ any) bool {
		if _, ok := e.history.LoadAndDelete(k); ok {
			e.tracked.Add(-1)
		}
		return true
	})
	return nil
}

func (e *ContentionDebugExtension) OnPublish(ctx context.Context, ev atom.PublishEvent) {
	rec := publishRecord{version: ev.Version, at: time.Now()}
	_, _ = e.historyFor(ev.Register).publishes.Update(func(records []publishRecord) []publishRecord {
		next := append(slices.Clone(records), rec)
		if len(next) > e.depth {
			next = next[len(next)-e.depth:]
		}
		return next
	})
}

func (e *ContentionDebugExtension) OnConflict(ctx context.Context, op *atom.Operation) {
	_, _ = e.historyFor(op.Register).conflicts.Update(func(n int) int { return n + 1 })
}

// OnError logs the publication history when an update fails
func (e *ContentionDebugExtension) OnError(err error, op *atom.Operation) {
	attrs := []any{
		"register", op.Register.Name(),
		"error", err.Error(),
		"operation", string(op.Kind),
		"attempts", op.Attempt,
		"history", e.formatHistory(op.Register, err),
	}

	msg := "Register Update Error"
	if errors.Is(err, atom.ErrContentionExceeded) {
		msg = "Register Contention Exceeded"
	}
	e.logger.Error(msg, attrs...)
}

func (e *ContentionDebugExtension) formatHistory(reg atom.AnyRegister, failedErr error) string {
	var sb strings.Builder
	h := e.historyFor(reg)
	records := h.publishes.Load()

	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("  %s @ v%d (conflicts observed: %d)\n", reg.Name(), reg.Version(), h.conflicts.Load()))

	if len(records) == 0 {
		sb.WriteString("    (no publications observed)\n")
	}
	for i, rec := range records {
		line := fmt.Sprintf("v%d at %s", rec.version, rec.at.Format(time.RFC3339Nano))
		if i == len(records)-1 {
			sb.WriteString(fmt.Sprintf("    └─> %s\n", line))
		} else {
			sb.WriteString(fmt.Sprintf("    ├─> %s\n", line))
		}
	}

	var contention *atom.ContentionExceededError
	if errors.As(failedErr, &contention) {
		sb.WriteString("\nError Details:\n")
		sb.WriteString(fmt.Sprintf("  Register: %s\n", contention.Register))
		sb.WriteString(fmt.Sprintf("  Attempts: %d\n", contention.Attempts))
	}

	return sb.String()
}

// SilentHandler is a slog.Handler that discards all log output
// Useful for testing when you don't want log output
type SilentHandler struct{}

// NewSilentHandler creates a new silent log handler
func NewSilentHandler() *SilentHandler {
	return &SilentHandler{}
}

func (h *SilentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return false
}

func (h *SilentHandler) Handle(ctx context.Context, record slog.Record) error {
	return nil
}

func (h *SilentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *SilentHandler) WithGroup(name string) slog.Handler {
	return h
}

// HumanHandler is a slog.Handler that formats logs for human readability
// with proper line breaks (especially for publication histories)
type HumanHandler struct {
	mu     sync.Mutex
	writer io.Writer
	level  slog.Level
}

// NewHumanHandler creates a new human-readable log handler
func NewHumanHandler(writer io.Writer, level slog.Level) *HumanHandler {
	return &HumanHandler{
		writer: writer,
		level:  level,
	}
}

func (h *HumanHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *HumanHandler) Handle(ctx context.Context, record slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch record.Message {
	case "Register Update Error", "Register Contention Exceeded":
		return h.handleRegisterError(record)
	}

	if _, err := fmt.Fprintf(h.writer, "[%s] %s\n", record.Level, record.Message); err != nil {
		return err
	}
	var writeErr error
	record.Attrs(func(a slog.Attr) bool {
		if _, err := fmt.Fprintf(h.writer, "  %s: %v\n", a.Key, a.Value); err != nil {
			writeErr = err
			return false
		}
		return true
	})
	return writeErr
}

func (h *HumanHandler) handleRegisterError(record slog.Record) error {
	var register, errorMsg, operation, attempts, history string

	record.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "register":
			register = a.Value.String()
		case "error":
			errorMsg = a.Value.String()
		case "operation":
			operation = a.Value.String()
		case "attempts":
			attempts = a.Value.String()
		case "history":
			history = a.Value.String()
		}
		return true
	})

	writes := []func() error{
		func() error { _, err := fmt.Fprintln(h.writer); return err },
		func() error { _, err := fmt.Fprintln(h.writer, strings.Repeat("=", 70)); return err },
		func() error { _, err := fmt.Fprintf(h.writer, "[ContentionDebug] %s\n", record.Message); return err },
		func() error { _, err := fmt.Fprintln(h.writer, strings.Repeat("=", 70)); return err },
		func() error { _, err := fmt.Fprintf(h.writer, "\nRegister: %s\n", register); return err },
		func() error { _, err := fmt.Fprintf(h.writer, "Error: %s\n", errorMsg); return err },
		func() error { _, err := fmt.Fprintf(h.writer, "Operation: %s (attempts: %s)\n", operation, attempts); return err },
		func() error { _, err := fmt.Fprintf(h.writer, "\nPublication History:%s", history); return err },
		func() error { _, err := fmt.Fprintln(h.writer, strings.Repeat("=", 70)); return err },
		func() error { _, err := fmt.Fprintln(h.writer); return err },
	}

	for _, write := range writes {
		if err := write(); err != nil {
			return err
		}
	}

	return nil
}

func (h *HumanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// For simplicity, return self (could create new handler with attrs if needed)
	return h
}

func (h *HumanHandler) WithGroup(name string) slog.Handler {
	return h
}
