package restartstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"

	"github.com/gridlink-project/gridlink/pkg/errclass"
	"github.com/gridlink-project/gridlink/pkg/fsutil"
	"github.com/gridlink-project/gridlink/pkg/model"
)

const recordExt = ".json"

// File keeps one JSON document per record in a directory.
type File struct {
	dir         string
	maxAttempts int
}

// NewFile opens (creating if needed) a file store rooted at dir.
func NewFile(dir string, maxAttempts int) (*File, error) {
	if err := checkMaxAttempts(maxAttempts); err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, errclass.ErrConfigInvalid.WithMessage("restart dir is empty")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: create restart dir: %w", errclass.ErrStore, err)
	}
	return &File{dir: dir, maxAttempts: maxAttempts}, nil
}

// Dir is the directory holding the records.
func (f *File) Dir() string { return f.dir }

func (f *File) path(id model.RestartIdentifier) (string, error) {
	key, err := keyOf(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.dir, key+recordExt), nil
}

func (f *File) Retrieve(_ context.Context, id model.RestartIdentifier) (*model.RestartRecord, error) {
	p, err := f.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", errclass.ErrStore, p, err)
	}
	return decode(data, id)
}

func (f *File) Store(_ context.Context, rec *model.RestartRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	p, err := f.path(rec.Identifier())
	if err != nil {
		return err
	}
	data, err := encode(rec)
	if err != nil {
		return err
	}
	if err := fsutil.AtomicWrite(p, data, 0600); err != nil {
		return fmt.Errorf("%w: write %s: %w", errclass.ErrStore, p, err)
	}
	return nil
}

func (f *File) Delete(_ context.Context, id model.RestartIdentifier) error {
	p, err := f.path(id)
	if err != nil {
		return err
	}
	if err := fsutil.RemoveAndSync(p); err != nil {
		return fmt.Errorf("%w: delete %s: %w", errclass.ErrStore, p, err)
	}
	return nil
}

// List reads every record in the directory. Records that cannot be decoded
// are reported in the returned error; the rest are still returned.
func (f *File) List(_ context.Context) ([]*model.RestartRecord, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read restart dir: %w", errclass.ErrStore, err)
	}

	var (
		out  []*model.RestartRecord
		errs error
	)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.dir, name))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("read %s: %w", name, err))
			continue
		}
		rec, err := decode(data, model.RestartIdentifier{})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, errs
}

func (f *File) MaxAttempts() int { return f.maxAttempts }

func (f *File) Close() error { return nil }
