// Package restartstore provides the persistence backends of the restart ledger.
package restartstore

import (
	"encoding/json"
	"fmt"

	"github.com/gridlink-project/gridlink/pkg/errclass"
	"github.com/gridlink-project/gridlink/pkg/jsonutil"
	"github.com/gridlink-project/gridlink/pkg/model"
)

// keyOf derives the storage key of an identifier: the SHA-256 of its
// canonical JSON. Keys are fixed length and safe in file names.
func keyOf(id model.RestartIdentifier) (string, error) {
	k, err := jsonutil.CanonicalHash(id)
	if err != nil {
		return "", fmt.Errorf("hash identifier %s: %w", id, err)
	}
	return k, nil
}

func checkMaxAttempts(n int) error {
	if n <= 0 {
		return errclass.ErrConfigInvalid.WithMessagef("restart max_attempts must be set to a positive value, got %d", n)
	}
	return nil
}

func checkRecord(rec *model.RestartRecord) error {
	if rec == nil {
		return errclass.ErrInvalidArgument.WithMessage("nil restart record")
	}
	if err := rec.Identifier().Validate(); err != nil {
		return err
	}
	return rec.Validate()
}

func encode(rec *model.RestartRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode restart record: %w", err)
	}
	return data, nil
}

// decode parses a stored record. want, when non-zero, must match the record's
// own identifier.
func decode(data []byte, want model.RestartIdentifier) (*model.RestartRecord, error) {
	var rec model.RestartRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errclass.ErrRestartCorrupt.WithMessagef("decode restart record: %v", err)
	}
	if !want.IsZero() && rec.Identifier() != want {
		return nil, errclass.ErrRestartCorrupt.WithMessagef("stored record %s does not match key %s", rec.Identifier(), want)
	}
	return &rec, nil
}

func notFound(id model.RestartIdentifier) error {
	return errclass.ErrRestartNotFound.WithMessagef("no restart record for %s", id)
}
