package journal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	atom "github.com/pumped-fn/pumped-atom"
)

type ledger struct {
	Owner   string
	Balance int64
}

func TestExtension_JournalsPublications(t *testing.T) {
	ctx := context.Background()
	j := setupTestJournal(t, InMemoryConfig())

	ext := NewExtension(j)
	scope := atom.NewScope(atom.WithExtension(ext))
	defer scope.Dispose()

	reg := atom.NewRegister(ledger{Owner: "ada"}, atom.WithScope(scope), atom.WithName("ledger"))
	for i := 0; i < 3; i++ {
		_, err := reg.Update(func(l ledger) ledger {
			l.Balance += 10
			return l
		})
		require.NoError(t, err)
	}

	entries, err := j.History(ctx, "ledger")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(2), entries[0].Version)
	assert.Equal(t, uint64(4), entries[2].Version)

	var last ledger
	require.NoError(t, GobCodec{}.Decode(entries[2].Payload, &last))
	assert.Equal(t, ledger{Owner: "ada", Balance: 30}, last)
	assert.Zero(t, ext.Failures())
}

func TestExtension_CompactEvery(t *testing.T) {
	ctx := context.Background()
	cfg := InMemoryConfig()
	cfg.KeepHistory = 2
	j := setupTestJournal(t, cfg)

	scope := atom.NewScope(atom.WithExtension(NewExtension(j, WithCompactEvery(4))))
	defer scope.Dispose()

	reg := atom.NewRegister(0, atom.WithScope(scope), atom.WithName("ticks"))
	for i := 0; i < 3; i++ {
		_, err := reg.Update(func(x int) int { return x + 1 })
		require.NoError(t, err)
	}

	// Version 4 triggers compaction
	entries, err := j.History(ctx, "ticks")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(3), entries[0].Version)
	assert.Equal(t, uint64(4), entries[1].Version)
}

func TestExtension_CountsFailures(t *testing.T) {
	j, err := Open(InMemoryConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	ext := NewExtension(j, WithCodec(JSONCodec{}))
	scope := atom.NewScope(atom.WithExtension(ext))
	defer scope.Dispose()

	reg := atom.NewRegister(0, atom.WithScope(scope), atom.WithName("lost"))
	_, err = reg.Update(func(x int) int { return x + 1 })
	require.NoError(t, err, "journal failures never fail the publication")

	assert.Equal(t, uint64(1), ext.Failures())
	assert.Equal(t, 1, reg.Load())
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig(t.TempDir())
	cfg.SyncWrites = false

	// First process publishes a few snapshots
	first, err := Open(cfg, nil)
	require.NoError(t, err)
	scope := atom.NewScope(atom.WithExtension(NewExtension(first, WithCodec(JSONCodec{}))))
	reg := atom.NewRegister(ledger{Owner: "ada"}, atom.WithScope(scope), atom.WithName("ledger"))
	for i := 0; i < 5; i++ {
		_, err := reg.Update(func(l ledger) ledger {
			l.Balance++
			return l
		})
		require.NoError(t, err)
	}
	require.NoError(t, scope.Dispose())
	require.NoError(t, first.Close())

	// Second process starts from the baseline and restores
	second := setupTestJournal(t, cfg)
	baseline := ledger{Owner: "ada"}
	restored := atom.NewRegister(baseline, atom.WithName("ledger"))

	ok, err := Restore(ctx, second, restored, baseline, JSONCodec{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ledger{Owner: "ada", Balance: 5}, restored.Load())
	assert.Equal(t, uint64(2), restored.Version())
}

func TestRestore_NoHistory(t *testing.T) {
	j := setupTestJournal(t, InMemoryConfig())
	reg := atom.NewRegister(ledger{}, atom.WithName("fresh"))

	ok, err := Restore(context.Background(), j, reg, ledger{}, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), reg.Version())
}

func TestRestore_Diverged(t *testing.T) {
	ctx := context.Background()
	j := setupTestJournal(t, InMemoryConfig())

	payload, err := GobCodec{}.Encode(ledger{Owner: "ada", Balance: 9})
	require.NoError(t, err)
	_, err = j.Append(ctx, Entry{Register: "ledger", Version: 2, Payload: payload})
	require.NoError(t, err)

	reg := atom.NewRegister(ledger{Owner: "bob"}, atom.WithName("ledger"))
	ok, err := Restore(ctx, j, reg, ledger{Owner: "ada"}, GobCodec{})
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrDiverged)
	assert.Equal(t, "bob", reg.Load().Owner)
}

func TestRestore_UndecodablePayload(t *testing.T) {
	ctx := context.Background()
	j := setupTestJournal(t, InMemoryConfig())

	_, err := j.Append(ctx, Entry{Register: "ledger", Version: 2, Payload: []byte("not json")})
	require.NoError(t, err)

	reg := atom.NewRegister(ledger{}, atom.WithName("ledger"))
	ok, err := Restore(ctx, j, reg, ledger{}, JSONCodec{})
	assert.False(t, ok)
	assert.Error(t, err)
	assert.Equal(t, uint64(1), reg.Version())
}
