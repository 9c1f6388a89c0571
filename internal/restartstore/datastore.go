package restartstore

import (
	"context"
	"errors"
	"fmt"

	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	"github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"
	"go.uber.org/multierr"

	"github.com/gridlink-project/gridlink/pkg/errclass"
	"github.com/gridlink-project/gridlink/pkg/model"
)

// Datastore keeps records in any go-datastore under the /restarts namespace.
type Datastore struct {
	ds          ds.Datastore
	maxAttempts int
}

// NewDatastore wraps an existing datastore. Records live under /restarts so
// the datastore may be shared.
func NewDatastore(d ds.Datastore, maxAttempts int) (*Datastore, error) {
	if err := checkMaxAttempts(maxAttempts); err != nil {
		return nil, err
	}
	return &Datastore{
		ds:          namespace.Wrap(d, ds.NewKey("/restarts")),
		maxAttempts: maxAttempts,
	}, nil
}

// NewMapDatastore creates a store over a thread-safe in-memory map datastore.
func NewMapDatastore(maxAttempts int) (*Datastore, error) {
	return NewDatastore(dssync.MutexWrap(ds.NewMapDatastore()), maxAttempts)
}

func dsKey(id model.RestartIdentifier) (ds.Key, error) {
	k, err := keyOf(id)
	if err != nil {
		return ds.Key{}, err
	}
	return ds.NewKey(k), nil
}

func (d *Datastore) Retrieve(ctx context.Context, id model.RestartIdentifier) (*model.RestartRecord, error) {
	key, err := dsKey(id)
	if err != nil {
		return nil, err
	}
	data, err := d.ds.Get(ctx, key)
	if errors.Is(err, ds.ErrNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: datastore get %s: %w", errclass.ErrStore, id, err)
	}
	return decode(data, id)
}

func (d *Datastore) Store(ctx context.Context, rec *model.RestartRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	key, err := dsKey(rec.Identifier())
	if err != nil {
		return err
	}
	data, err := encode(rec)
	if err != nil {
		return err
	}
	if err := d.ds.Put(ctx, key, data); err != nil {
		return fmt.Errorf("%w: datastore put %s: %w", errclass.ErrStore, rec.Identifier(), err)
	}
	return nil
}

func (d *Datastore) Delete(ctx context.Context, id model.RestartIdentifier) error {
	key, err := dsKey(id)
	if err != nil {
		return err
	}
	if err := d.ds.Delete(ctx, key); err != nil && !errors.Is(err, ds.ErrNotFound) {
		return fmt.Errorf("%w: datastore delete %s: %w", errclass.ErrStore, id, err)
	}
	return nil
}

// List queries every record. Undecodable values are reported in the
// returned error alongside the records that did decode.
func (d *Datastore) List(ctx context.Context) ([]*model.RestartRecord, error) {
	res, err := d.ds.Query(ctx, query.Query{})
	if err != nil {
		return nil, fmt.Errorf("%w: datastore query: %w", errclass.ErrStore, err)
	}
	defer res.Close()

	var (
		out  []*model.RestartRecord
		errs error
	)
	for {
		r, ok := res.NextSync()
		if !ok {
			break
		}
		if r.Error != nil {
			return nil, fmt.Errorf("%w: datastore query: %w", errclass.ErrStore, r.Error)
		}
		rec, err := decode(r.Value, model.RestartIdentifier{})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", r.Key, err))
			continue
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, errs
}

func (d *Datastore) MaxAttempts() int { return d.maxAttempts }

// Close closes the underlying datastore.
func (d *Datastore) Close() error {
	return d.ds.Close()
}
