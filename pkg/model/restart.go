package model

import (
	"fmt"
	"time"

	"github.com/gridlink-project/gridlink/pkg/errclass"
	"github.com/gridlink-project/gridlink/pkg/pathutil"
)

// RestartType identifies the direction of a resumable transfer.
type RestartType string

const (
	RestartPut RestartType = "PUT"
	RestartGet RestartType = "GET"
)

// Valid reports whether t is a known restart type.
func (t RestartType) Valid() bool {
	return t == RestartPut || t == RestartGet
}

// RestartIdentifier is the ledger key: (restart type, account identity, remote path).
// It is a comparable value type.
type RestartIdentifier struct {
	Type            RestartType `json:"restart_type"`
	AccountIdentity string      `json:"account_identity"`
	AbsolutePath    string      `json:"absolute_path"`
}

// NewRestartIdentifier validates and normalizes the identifier components.
func NewRestartIdentifier(typ RestartType, accountIdentity, absolutePath string) (RestartIdentifier, error) {
	id := RestartIdentifier{Type: typ, AccountIdentity: accountIdentity, AbsolutePath: absolutePath}
	if err := id.Validate(); err != nil {
		return RestartIdentifier{}, err
	}
	return id.Normalized(), nil
}

// Normalized returns id with its path NFC-normalized and cleaned, so every
// spelling of one remote object yields the same identifier.
func (id RestartIdentifier) Normalized() RestartIdentifier {
	if id.AbsolutePath != "" {
		id.AbsolutePath = pathutil.NormalizeRemotePath(id.AbsolutePath)
	}
	return id
}

// Validate rejects empty or malformed identifiers.
func (id RestartIdentifier) Validate() error {
	if id.IsZero() {
		return errclass.ErrInvalidArgument.WithMessage("empty restart identifier")
	}
	if !id.Type.Valid() {
		return errclass.ErrInvalidArgument.WithMessagef("unknown restart type %q", id.Type)
	}
	if id.AccountIdentity == "" {
		return errclass.ErrInvalidArgument.WithMessage("restart identifier has no account identity")
	}
	return pathutil.ValidateRemotePath(id.AbsolutePath)
}

// IsZero reports whether every component is empty.
func (id RestartIdentifier) IsZero() bool {
	return id == RestartIdentifier{}
}

func (id RestartIdentifier) String() string {
	return fmt.Sprintf("%s:%s:%s", id.Type, id.AccountIdentity, id.AbsolutePath)
}

// Segment is the progress owned by one worker thread of a transfer.
type Segment struct {
	ThreadNumber int   `json:"thread_number"`
	Offset       int64 `json:"offset"`
	Length       int64 `json:"length"`
}

// Position is the first byte, relative to the worker's range, not yet transferred.
func (s Segment) Position() int64 {
	return s.Offset + s.Length
}

// RestartRecord is the resumable state of one transfer.
type RestartRecord struct {
	Type            RestartType `json:"restart_type"`
	AccountIdentity string      `json:"account_identity"`
	AbsolutePath    string      `json:"absolute_path"`
	LocalPath       string      `json:"local_path"`
	// Size is the transfer size the segments were planned for; zero until
	// the first attempt records it.
	Size      int64     `json:"size"`
	Attempts  int       `json:"attempts"`
	Segments  []Segment `json:"segments"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRestartRecord builds a record with workerCount zeroed segments.
func NewRestartRecord(id RestartIdentifier, localPath string, workerCount int) *RestartRecord {
	now := time.Now().UTC()
	rec := &RestartRecord{
		Type:            id.Type,
		AccountIdentity: id.AccountIdentity,
		AbsolutePath:    id.AbsolutePath,
		LocalPath:       localPath,
		Segments:        make([]Segment, workerCount),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i := range rec.Segments {
		rec.Segments[i].ThreadNumber = i
	}
	return rec
}

// Identifier reconstructs the ledger key of the record.
func (r *RestartRecord) Identifier() RestartIdentifier {
	return RestartIdentifier{
		Type:            r.Type,
		AccountIdentity: r.AccountIdentity,
		AbsolutePath:    r.AbsolutePath,
	}
}

// Clone returns a deep copy.
func (r *RestartRecord) Clone() *RestartRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Segments = append([]Segment(nil), r.Segments...)
	return &c
}

// Validate checks the segment-index invariant: segment i has thread number i.
func (r *RestartRecord) Validate() error {
	for i, seg := range r.Segments {
		if seg.ThreadNumber != i {
			return errclass.ErrRestartCorrupt.WithMessagef(
				"%s: segment %d has thread number %d", r.Identifier(), i, seg.ThreadNumber)
		}
	}
	return nil
}

// TransferredBytes sums the progress of every segment.
func (r *RestartRecord) TransferredBytes() int64 {
	var n int64
	for _, seg := range r.Segments {
		n += seg.Position()
	}
	return n
}
