package restartstore

import (
	"github.com/gridlink-project/gridlink/internal/ledger"
	"github.com/gridlink-project/gridlink/pkg/config"
	"github.com/gridlink-project/gridlink/pkg/errclass"
	"github.com/gridlink-project/gridlink/pkg/logging"
)

// Store is a restart store that holds resources until closed.
type Store interface {
	ledger.RestartStore
	Close() error
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*File)(nil)
	_ Store = (*Badger)(nil)
	_ Store = (*Datastore)(nil)
	_ Store = (*Cached)(nil)
)

// Open creates the backend named by cfg.Backend, wrapped in an LRU cache
// when cfg.CacheSize is positive.
func Open(cfg config.RestartConfig, log *logging.Logger) (Store, error) {
	var (
		s   Store
		err error
	)
	dir := config.ExpandHome(cfg.Dir)
	switch cfg.Backend {
	case config.BackendMemory:
		s, err = NewMemory(cfg.MaxAttempts)
	case config.BackendFile:
		s, err = NewFile(dir, cfg.MaxAttempts)
	case config.BackendBadger:
		s, err = NewBadger(BadgerOptions{Dir: dir, MaxAttempts: cfg.MaxAttempts, Logger: log})
	case config.BackendDatastore:
		s, err = NewMapDatastore(cfg.MaxAttempts)
	default:
		return nil, errclass.ErrConfigInvalid.WithMessagef("unknown restart backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize > 0 {
		cached, err := NewCached(s, cfg.CacheSize)
		if err != nil {
			s.Close()
			return nil, err
		}
		s = cached
	}
	return s, nil
}
