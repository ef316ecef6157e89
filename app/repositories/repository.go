package repositories

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig configures OpenBadger.
type BadgerConfig struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	// Logger receives Badger's internal logs. Nil silences them.
	Logger *slog.Logger
}

// BadgerStore implements Store on a Badger database. Each View or Update
// maps to exactly one Badger transaction.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the database described by cfg.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// NewBadgerStore wraps an already open database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// DB exposes the underlying database for maintenance commands.
func (s *BadgerStore) DB() *badger.DB {
	return s.db
}

func (s *BadgerStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

func (s *BadgerStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Clear drops every key, leaving an empty database.
func (s *BadgerStore) Clear() error {
	return s.db.DropAll()
}

// Backup writes a full backup to w.
func (s *BadgerStore) Backup(w io.Writer) error {
	_, err := s.db.Backup(w, 0)
	return err
}

// Restore loads a backup produced by Backup.
func (s *BadgerStore) Restore(r io.Reader) error {
	return s.db.Load(r, 256)
}

// RunGC runs value log garbage collection every interval until ctx ends.
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 || s.db.Opts().InMemory {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// ErrNoRewrite means nothing was worth collecting
			for {
				err := s.db.RunValueLogGC(0.5)
				if err == nil {
					logger.Debug("badger value log GC completed")
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
					logger.Warn("badger value log GC error", slog.String("error", err.Error()))
				}
				break
			}
		}
	}
}

type badgerTx struct {
	txn *badger.Txn
}

func (t *badgerTx) Identities() IdentityRepository { return &BadgerIdentityRepository{txn: t.txn} }
func (t *badgerTx) Posts() PostRepository           { return &BadgerPostRepository{txn: t.txn} }
func (t *badgerTx) Comments() CommentRepository     { return &BadgerCommentRepository{txn: t.txn} }
func (t *badgerTx) Bookmarks() BookmarkRepository   { return &BadgerBookmarkRepository{txn: t.txn} }
func (t *badgerTx) Sessions() SessionRepository     { return &BadgerSessionRepository{txn: t.txn} }

// badgerLogger adapts slog.Logger to Badger's Logger interface.
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

