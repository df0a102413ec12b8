package atom

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExtension struct {
	BaseExtension
	order int

	mu        sync.Mutex
	events    *[]string
	publishes []PublishEvent
	conflicts int
	errs      []error
	initErr   error
}

func newRecordingExtension(name string, order int, events *[]string) *recordingExtension {
	return &recordingExtension{
		BaseExtension: NewBaseExtension(name),
		order:         order,
		events:        events,
	}
}

func (e *recordingExtension) record(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	*e.events = append(*e.events, s)
}

func (e *recordingExtension) Order() int {
	return e.order
}

func (e *recordingExtension) Init(scope *Scope) error {
	return e.initErr
}

func (e *recordingExtension) Wrap(ctx context.Context, next func() (any, error), op *Operation) (any, error) {
	e.record(e.Name() + ":before:" + string(op.Kind))
	res, err := next()
	e.record(e.Name() + ":after:" + string(op.Kind))
	return res, err
}

func (e *recordingExtension) OnPublish(ctx context.Context, ev PublishEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publishes = append(e.publishes, ev)
}

func (e *recordingExtension) OnConflict(ctx context.Context, op *Operation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conflicts++
}

func (e *recordingExtension) OnError(err error, op *Operation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

func (e *recordingExtension) Dispose(scope *Scope) error {
	e.record(e.Name() + ":dispose")
	return nil
}

func TestScope_ExtensionOrder(t *testing.T) {
	var events []string
	late := newRecordingExtension("late", 20, &events)
	early := newRecordingExtension("early", 10, &events)

	scope := NewScope(WithExtension(late), WithExtension(early))
	exts := scope.Extensions()
	require.Len(t, exts, 2)
	assert.Equal(t, "early", exts[0].Name())
	assert.Equal(t, "late", exts[1].Name())

	reg := NewRegister(1, WithScope(scope))
	_, err := reg.Update(func(x int) int { return x + 1 })
	require.NoError(t, err)

	assert.Equal(t, []string{
		"early:before:update",
		"late:before:update",
		"late:after:update",
		"early:after:update",
	}, events)
}

func TestScope_ExtensionOrder_Extremes(t *testing.T) {
	var events []string
	scope := NewScope(
		WithExtension(newRecordingExtension("max", math.MaxInt, &events)),
		WithExtension(newRecordingExtension("zero", 0, &events)),
		WithExtension(newRecordingExtension("min", math.MinInt, &events)),
	)

	var names []string
	for _, ext := range scope.Extensions() {
		names = append(names, ext.Name())
	}
	assert.Equal(t, []string{"min", "zero", "max"}, names)
}

func TestScope_PublishEvents(t *testing.T) {
	var events []string
	ext := newRecordingExtension("rec", 0, &events)
	scope := NewScope(WithExtension(ext))

	reg := NewRegister(1, WithScope(scope), WithName("counter"))
	_, err := reg.Update(func(x int) int { return x + 1 })
	require.NoError(t, err)
	require.True(t, reg.CompareAndSwap(2, 5))

	require.Len(t, ext.publishes, 2)
	first := ext.publishes[0]
	assert.Equal(t, "counter", first.Register.Name())
	assert.Equal(t, uint64(2), first.Version)
	assert.Equal(t, 2, first.Value)
	assert.Equal(t, 1, first.Previous)
	assert.Equal(t, uint64(1), first.PreviousVersion)
	assert.Equal(t, OpUpdate, first.Operation.Kind)

	second := ext.publishes[1]
	assert.Equal(t, uint64(3), second.Version)
	assert.Equal(t, 5, second.Value)
	assert.Equal(t, OpCompareAndSwap, second.Operation.Kind)
}

func TestScope_ConflictAndErrorHooks(t *testing.T) {
	var events []string
	ext := newRecordingExtension("rec", 0, &events)
	scope := NewScope(WithExtension(ext))
	reg := NewRegister(0, WithScope(scope))

	_, err := reg.Update(func(x int) int {
		reg.CompareAndSwapSnapshot(reg.LoadSnapshot(), x+1)
		return x + 10
	}, WithMaxRetries(0))

	require.ErrorIs(t, err, ErrContentionExceeded)
	assert.Equal(t, 1, ext.conflicts)
	require.Len(t, ext.errs, 1)
	assert.ErrorIs(t, ext.errs[0], ErrContentionExceeded)

	// Only the interfering swap was published
	require.Len(t, ext.publishes, 1)
	assert.Equal(t, 1, ext.publishes[0].Value)
}

func TestScope_ExtensionCannotForgeResult(t *testing.T) {
	scope := NewScope(WithExtension(&forgingExtension{BaseExtension: NewBaseExtension("forge")}))
	reg := NewRegister(1, WithScope(scope))

	_, err := reg.Update(func(x int) int { return x + 1 })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected *Snapshot[int]")
}

type forgingExtension struct {
	BaseExtension
}

func (e *forgingExtension) Wrap(ctx context.Context, next func() (any, error), op *Operation) (any, error) {
	if _, err := next(); err != nil {
		return nil, err
	}
	return "forged", nil
}

func TestScope_InitError(t *testing.T) {
	var events []string
	ext := newRecordingExtension("broken", 0, &events)
	ext.initErr = errors.New("no backend")

	scope := NewScope()
	err := scope.UseExtension(ext)
	require.Error(t, err)
	assert.ErrorIs(t, err, ext.initErr)
	assert.Contains(t, err.Error(), "initializing extension broken")

	assert.Panics(t, func() {
		NewScope(WithExtension(ext))
	})
}

func TestScope_Dispose(t *testing.T) {
	var events []string
	ext := newRecordingExtension("rec", 0, &events)
	scope := NewScope(WithExtension(ext))

	scope.OnCleanup(func() error {
		events = append(events, "cleanup:first")
		return nil
	})
	scope.OnCleanup(func() error {
		events = append(events, "cleanup:second")
		return errors.New("close failed")
	})

	err := scope.Dispose()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close failed")
	assert.Equal(t, []string{"cleanup:second", "cleanup:first", "rec:dispose"}, events)

	// Cleanups are claimed once
	events = nil
	require.NoError(t, scope.Dispose())
	assert.Equal(t, []string{"rec:dispose"}, events)
}

func TestScope_Tags(t *testing.T) {
	env := NewTag[string]("env")
	scope := NewScope(WithScopeTag(env, "staging"))

	v, ok := env.GetFromScope(scope)
	require.True(t, ok)
	assert.Equal(t, "staging", v)

	env.SetOnScope(scope, "prod")
	assert.Equal(t, "prod", env.GetOrDefault(scope, ""))
	assert.Equal(t, "env", env.Key())
}

func TestTypeSafeCache(t *testing.T) {
	cache := NewTypeSafeCache[int]()

	assert.Equal(t, 1, cache.LoadOrStore("a", 1))
	assert.Equal(t, 1, cache.LoadOrStore("a", 2))
	assert.Equal(t, 2, cache.LoadOrStore("b", 2))

	v, ok := cache.Load("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = cache.Load("missing")
	assert.False(t, ok)
	assert.Equal(t, 2, cache.Size())

	sum := 0
	cache.Range(func(_ CacheKey, v int) bool {
		sum += v
		return true
	})
	assert.Equal(t, 3, sum)
}
