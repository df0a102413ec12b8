// Package journal persists published register snapshots in BadgerDB so a
// register can be reconstructed after a restart.
//
// Keys are laid out as
//
//	snap/<register>/<epoch:8 bytes BE>/<version:8 bytes BE>
//
// where the epoch is allocated from a Badger sequence each time the
// journal is opened. Register versions restart at 1 in every process, so
// ordering by (epoch, version) keeps the newest publication last.
//
// Values are stored as [4-byte CRC32][gob-encoded Entry].
package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	atom "github.com/pumped-fn/pumped-atom"
)

var (
	// ErrCorruptEntry is returned when a stored entry fails its checksum
	ErrCorruptEntry = errors.New("journal: corrupt entry")
	// ErrClosed is returned by operations on a closed journal
	ErrClosed = errors.New("journal: closed")
)

var (
	keyPrefix   = []byte("snap/")
	epochSeqKey = []byte("meta/epoch")
	validate    = validator.New()
)

// Config holds configuration for a journal
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string `yaml:"path" validate:"required_unless=InMemory true"`

	// InMemory enables in-memory mode (no disk persistence). Useful for testing.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites enables synchronous writes for durability
	SyncWrites bool `yaml:"sync_writes"`

	// KeepHistory is the number of entries retained per register by
	// Compact. 0 keeps everything.
	KeepHistory int `yaml:"keep_history" validate:"gte=0"`
}

// DefaultConfig returns production defaults for the given path
func DefaultConfig(path string) Config {
	return Config{
		Path:        path,
		SyncWrites:  true,
		KeepHistory: 64,
	}
}

// InMemoryConfig returns configuration for tests
func InMemoryConfig() Config {
	return Config{
		InMemory:    true,
		KeepHistory: 64,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("journal config: %w", err)
	}
	return nil
}

// Entry is one persisted publication
type Entry struct {
	ID          string
	Register    string
	Epoch       uint64
	Version     uint64
	Payload     []byte
	PublishedAt time.Time
}

// Journal is a BadgerDB-backed log of register publications
type Journal struct {
	db     *badger.DB
	epoch  uint64
	cfg    Config
	logger *slog.Logger
	closed *atom.Register[bool]
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens the journal and allocates a fresh epoch.
// A nil logger disables BadgerDB's internal logging.
func Open(cfg Config, logger *slog.Logger) (*Journal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	epoch, err := nextEpoch(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("journal opened", "path", cfg.Path, "in_memory", cfg.InMemory, "epoch", epoch)

	return &Journal{
		db:     db,
		epoch:  epoch,
		cfg:    cfg,
		logger: logger,
		closed: atom.NewRegister(false, atom.WithName("journal.closed")),
	}, nil
}

func nextEpoch(db *badger.DB) (uint64, error) {
	seq, err := db.GetSequence(epochSeqKey, 1)
	if err != nil {
		return 0, fmt.Errorf("allocate epoch sequence: %w", err)
	}
	defer func() { _ = seq.Release() }()

	n, err := seq.Next()
	if err != nil {
		return 0, fmt.Errorf("allocate epoch: %w", err)
	}
	// Sequences start at 0; epoch 0 is reserved for "never opened"
	return n + 1, nil
}

// Epoch returns the epoch allocated when this journal was opened
func (j *Journal) Epoch() uint64 {
	return j.epoch
}

func registerPrefix(register string) []byte {
	p := make([]byte, 0, len(keyPrefix)+len(register)+1)
	p = append(p, keyPrefix...)
	p = append(p, register...)
	return append(p, '/')
}

func entryKey(register string, epoch, version uint64) []byte {
	k := registerPrefix(register)
	k = binary.BigEndian.AppendUint64(k, epoch)
	return binary.BigEndian.AppendUint64(k, version)
}

func encodeEntry(e Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(make([]byte, 4))
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	data := buf.Bytes()
	binary.BigEndian.PutUint32(data[:4], crc32.ChecksumIEEE(data[4:]))
	return data, nil
}

func decodeEntry(data []byte) (Entry, error) {
	if len(data) < 4 {
		return Entry{}, fmt.Errorf("%w: %d bytes", ErrCorruptEntry, len(data))
	}
	if crc32.ChecksumIEEE(data[4:]) != binary.BigEndian.Uint32(data[:4]) {
		return Entry{}, fmt.Errorf("%w: checksum mismatch", ErrCorruptEntry)
	}
	var e Entry
	if err := gob.NewDecoder(bytes.NewReader(data[4:])).Decode(&e); err != nil {
		return Entry{}, fmt.Errorf("gob decode: %w", err)
	}
	return e, nil
}

func (j *Journal) check(ctx context.Context) error {
	if j.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// Append stores an entry for the current epoch. ID, Epoch and PublishedAt
// are filled in when unset; the stored entry is returned.
func (j *Journal) Append(ctx context.Context, e Entry) (Entry, error) {
	if err := j.check(ctx); err != nil {
		return Entry{}, err
	}
	if e.Register == "" || strings.Contains(e.Register, "/") {
		return Entry{}, fmt.Errorf("journal: invalid register name %q", e.Register)
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Epoch == 0 {
		e.Epoch = j.epoch
	}
	if e.PublishedAt.IsZero() {
		e.PublishedAt = time.Now().UTC()
	}

	data, err := encodeEntry(e)
	if err != nil {
		return Entry{}, err
	}

	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(e.Register, e.Epoch, e.Version), data)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("append %s v%d: %w", e.Register, e.Version, err)
	}
	return e, nil
}

// Latest returns the newest entry for a register, if any
func (j *Journal) Latest(ctx context.Context, register string) (atom.Option[Entry], error) {
	if err := j.check(ctx); err != nil {
		return atom.None[Entry](), err
	}

	prefix := registerPrefix(register)
	latest := atom.None[Entry]()

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the largest possible key under the prefix
		seek := append(append([]byte{}, prefix...), bytes.Repeat([]byte{0xff}, 16)...)
		it.Seek(seek)
		if !it.ValidForPrefix(prefix) {
			return nil
		}

		data, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		e, err := decodeEntry(data)
		if err != nil {
			return err
		}
		latest = atom.Some(e)
		return nil
	})
	if err != nil {
		return atom.None[Entry](), fmt.Errorf("latest %s: %w", register, err)
	}
	return latest, nil
}

// History returns every retained entry for a register, oldest first
func (j *Journal) History(ctx context.Context, register string) ([]Entry, error) {
	if err := j.check(ctx); err != nil {
		return nil, err
	}

	prefix := registerPrefix(register)
	var entries []Entry

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			e, err := decodeEntry(data)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", register, err)
	}
	return entries, nil
}

// Compact deletes all but the newest KeepHistory entries of a register
// and returns how many were removed.
func (j *Journal) Compact(ctx context.Context, register string) (int, error) {
	if err := j.check(ctx); err != nil {
		return 0, err
	}
	if j.cfg.KeepHistory == 0 {
		return 0, nil
	}

	prefix := registerPrefix(register)
	var keys [][]byte

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("compact %s: %w", register, err)
	}

	if len(keys) <= j.cfg.KeepHistory {
		return 0, nil
	}
	stale := keys[:len(keys)-j.cfg.KeepHistory]

	wb := j.db.NewWriteBatch()
	for _, k := range stale {
		if err := wb.Delete(k); err != nil {
			wb.Cancel()
			return 0, fmt.Errorf("compact %s: %w", register, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("compact %s: %w", register, err)
	}

	j.logger.Debug("journal compacted", "register", register, "removed", len(stale))
	return len(stale), nil
}

// Close closes the underlying database. Closing twice is a no-op.
func (j *Journal) Close() error {
	if !j.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("close badger database: %w", err)
	}
	return nil
}
