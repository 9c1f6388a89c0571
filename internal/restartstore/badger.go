package restartstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/multierr"

	"github.com/gridlink-project/gridlink/pkg/errclass"
	"github.com/gridlink-project/gridlink/pkg/logging"
	"github.com/gridlink-project/gridlink/pkg/model"
)

var badgerPrefix = []byte("restart/")

// BadgerOptions configures a badger-backed store.
type BadgerOptions struct {
	// Dir is ignored when InMemory is set.
	Dir         string
	InMemory    bool
	MaxAttempts int
	Logger      *logging.Logger
}

// Badger keeps records in a badger database.
type Badger struct {
	db          *badger.DB
	maxAttempts int
}

// NewBadger opens the database described by opts.
func NewBadger(opts BadgerOptions) (*Badger, error) {
	if err := checkMaxAttempts(opts.MaxAttempts); err != nil {
		return nil, err
	}
	if !opts.InMemory && opts.Dir == "" {
		return nil, errclass.ErrConfigInvalid.WithMessage("restart dir is empty")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Global()
	}

	bopts := badger.DefaultOptions(opts.Dir).
		WithInMemory(opts.InMemory).
		WithLogger(log.WithFields(map[string]any{"component": "badger"}).Entry()).
		WithSyncWrites(true)
	if opts.InMemory {
		bopts.Dir, bopts.ValueDir = "", ""
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger at %s: %w", errclass.ErrStore, opts.Dir, err)
	}
	return &Badger{db: db, maxAttempts: opts.MaxAttempts}, nil
}

func badgerKey(id model.RestartIdentifier) ([]byte, error) {
	k, err := keyOf(id)
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), badgerPrefix...), k...), nil
}

func (b *Badger) Retrieve(_ context.Context, id model.RestartIdentifier) (*model.RestartRecord, error) {
	key, err := badgerKey(id)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: badger get %s: %w", errclass.ErrStore, id, err)
	}
	return decode(data, id)
}

func (b *Badger) Store(_ context.Context, rec *model.RestartRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	key, err := badgerKey(rec.Identifier())
	if err != nil {
		return err
	}
	data, err := encode(rec)
	if err != nil {
		return err
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return fmt.Errorf("%w: badger set %s: %w", errclass.ErrStore, rec.Identifier(), err)
	}
	return nil
}

func (b *Badger) Delete(_ context.Context, id model.RestartIdentifier) error {
	key, err := badgerKey(id)
	if err != nil {
		return err
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}); err != nil {
		return fmt.Errorf("%w: badger delete %s: %w", errclass.ErrStore, id, err)
	}
	return nil
}

// List scans every record. Undecodable values are reported in the returned
// error alongside the records that did decode.
func (b *Badger) List(_ context.Context) ([]*model.RestartRecord, error) {
	var (
		out  []*model.RestartRecord
		errs error
	)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(badgerPrefix); it.ValidForPrefix(badgerPrefix); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := decode(data, model.RestartIdentifier{})
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", item.Key(), err))
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: badger scan: %w", errclass.ErrStore, err)
	}
	sortRecords(out)
	return out, errs
}

func (b *Badger) MaxAttempts() int { return b.maxAttempts }

// Close closes the database.
func (b *Badger) Close() error {
	return b.db.Close()
}
