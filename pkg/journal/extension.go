package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	atom "github.com/pumped-fn/pumped-atom"
)

// ErrDiverged is returned by Restore when the register no longer holds
// the baseline value, so the journaled value was not installed.
var ErrDiverged = errors.New("journal: register diverged from baseline")

// Extension appends every publication of the scope's registers to a journal
type Extension struct {
	atom.BaseExtension
	journal      *Journal
	codec        Codec
	logger       *slog.Logger
	compactEvery uint64
	failures     atomic.Uint64
}

// ExtensionOption configures the journal extension
type ExtensionOption func(*Extension)

// WithCodec sets the payload codec (default GobCodec)
func WithCodec(c Codec) ExtensionOption {
	return func(e *Extension) {
		e.codec = c
	}
}

// WithLogger sets the logger used for append failures
func WithLogger(l *slog.Logger) ExtensionOption {
	return func(e *Extension) {
		e.logger = l
	}
}

// WithCompactEvery compacts a register's history every n versions.
// 0 disables automatic compaction.
func WithCompactEvery(n uint64) ExtensionOption {
	return func(e *Extension) {
		e.compactEvery = n
	}
}

// NewExtension creates a journal extension
func NewExtension(j *Journal, opts ...ExtensionOption) *Extension {
	e := &Extension{
		BaseExtension: atom.NewBaseExtension("journal"),
		journal:       j,
		codec:         GobCodec{},
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Extension) Order() int {
	return 50
}

// Failures returns the number of publications that could not be journaled
func (e *Extension) Failures() uint64 {
	return e.failures.Load()
}

func (e *Extension) OnPublish(ctx context.Context, ev atom.PublishEvent) {
	// The swap has already happened; the caller giving up must not lose the record
	ctx = context.WithoutCancel(ctx)
	name := ev.Register.Name()

	payload, err := e.codec.Encode(ev.Value)
	if err != nil {
		e.fail(ctx, name, ev.Version, fmt.Errorf("encode: %w", err))
		return
	}

	if _, err := e.journal.Append(ctx, Entry{
		Register: name,
		Version:  ev.Version,
		Payload:  payload,
	}); err != nil {
		e.fail(ctx, name, ev.Version, err)
		return
	}

	if e.compactEvery > 0 && ev.Version%e.compactEvery == 0 {
		if _, err := e.journal.Compact(ctx, name); err != nil {
			e.logger.WarnContext(ctx, "journal compaction failed", "register", name, "error", err)
		}
	}
}

func (e *Extension) fail(ctx context.Context, register string, version uint64, err error) {
	e.failures.Add(1)
	e.logger.ErrorContext(ctx, "journal append failed",
		"register", register,
		"version", version,
		"error", err,
	)
}

// Restore installs the newest journaled value of reg, provided reg still
// holds baseline by value. It reports whether a value was installed; a
// register with no journal history is left untouched.
func Restore[T any](ctx context.Context, j *Journal, reg *atom.Register[T], baseline T, codec Codec) (bool, error) {
	if codec == nil {
		codec = GobCodec{}
	}

	latest, err := j.Latest(ctx, reg.Name())
	if err != nil {
		return false, err
	}

	restored, err := atom.TryMap(latest, func(entry Entry) (T, error) {
		var v T
		if err := codec.Decode(entry.Payload, &v); err != nil {
			return v, fmt.Errorf("decode %s v%d: %w", entry.Register, entry.Version, err)
		}
		return v, nil
	})
	if err != nil {
		return false, err
	}

	value, ok := restored.Get()
	if !ok {
		return false, nil
	}

	if !reg.CompareAndSwapContext(ctx, baseline, value) {
		return false, fmt.Errorf("restore %s: %w", reg.Name(), ErrDiverged)
	}
	return true, nil
}
