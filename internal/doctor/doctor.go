// Package doctor checks the health of the restart ledger.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gridlink-project/gridlink/internal/ledger"
	"github.com/gridlink-project/gridlink/pkg/model"
)

// Severities, most serious first.
const (
	SeverityCritical = "critical"
	SeverityError    = "error"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

const tmpPrefix = ".gridlink-tmp-"

// StaleAfter is the age past which strict checks report an untouched record.
const StaleAfter = 7 * 24 * time.Hour

// Finding represents a detected issue.
type Finding struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Restart     string `json:"restart,omitempty"`
	Path        string `json:"path,omitempty"`
}

// Result contains doctor check results.
type Result struct {
	Healthy  bool      `json:"healthy"`
	Records  int       `json:"records"`
	Findings []Finding `json:"findings"`
}

func (r *Result) add(f Finding) {
	r.Findings = append(r.Findings, f)
	if f.Severity == SeverityCritical || f.Severity == SeverityError {
		r.Healthy = false
	}
}

// Doctor performs ledger health checks.
type Doctor struct {
	ledger *ledger.Ledger
	// dir is the file store directory, scanned for leftover temp files.
	dir string
	now func() time.Time
}

// NewDoctor creates a doctor for l. dir may be empty when the backend keeps
// no files of its own.
func NewDoctor(l *ledger.Ledger, dir string) *Doctor {
	return &Doctor{ledger: l, dir: dir, now: time.Now}
}

// Check runs all diagnostic checks. Strict mode also reports stale records.
func (d *Doctor) Check(ctx context.Context, strict bool) (*Result, error) {
	result := &Result{Healthy: true}

	recs, err := d.ledger.List(ctx)
	if err != nil {
		if recs == nil {
			return nil, fmt.Errorf("list restart records: %w", err)
		}
		result.add(Finding{
			Category:    "store",
			Description: fmt.Sprintf("unreadable restart records: %v", err),
			Severity:    SeverityError,
		})
	}
	result.Records = len(recs)

	limit := d.ledger.MaxAttempts()
	for _, rec := range recs {
		d.checkRecord(result, rec, limit, strict)
	}
	d.checkOrphanTmp(result)
	return result, nil
}

func (d *Doctor) checkRecord(result *Result, rec *model.RestartRecord, limit int, strict bool) {
	id := rec.Identifier().String()

	if len(rec.Segments) == 0 {
		result.add(Finding{
			Category:    "segments",
			Description: "record has no segments",
			Severity:    SeverityError,
			Restart:     id,
		})
	}
	if err := rec.Validate(); err != nil {
		result.add(Finding{
			Category:    "segments",
			Description: err.Error(),
			Severity:    SeverityCritical,
			Restart:     id,
		})
	}
	for i, seg := range rec.Segments {
		if seg.Offset < 0 || seg.Length < 0 {
			result.add(Finding{
				Category:    "segments",
				Description: fmt.Sprintf("segment %d has negative offset %d or length %d", i, seg.Offset, seg.Length),
				Severity:    SeverityCritical,
				Restart:     id,
			})
		}
	}
	if rec.Attempts >= limit {
		result.add(Finding{
			Category:    "attempts",
			Description: fmt.Sprintf("%d attempts, limit is %d", rec.Attempts, limit),
			Severity:    SeverityWarning,
			Restart:     id,
		})
	}
	if strict && !rec.UpdatedAt.IsZero() && d.now().Sub(rec.UpdatedAt) > StaleAfter {
		result.add(Finding{
			Category:    "stale",
			Description: fmt.Sprintf("not updated since %s", rec.UpdatedAt.Format(time.RFC3339)),
			Severity:    SeverityInfo,
			Restart:     id,
		})
	}
}

func (d *Doctor) checkOrphanTmp(result *Result) {
	if d.dir == "" {
		return
	}
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tmpPrefix) {
			result.add(Finding{
				Category:    "tmp",
				Description: fmt.Sprintf("orphan temp file: %s", e.Name()),
				Severity:    SeverityInfo,
				Path:        filepath.Join(d.dir, e.Name()),
			})
		}
	}
}

// RepairAction describes an available repair.
type RepairAction struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// RepairResult reports what one action did.
type RepairResult struct {
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Cleaned int    `json:"cleaned"`
	Message string `json:"message,omitempty"`
}

// ListRepairActions lists the repairs Repair understands.
func (d *Doctor) ListRepairActions() []RepairAction {
	return []RepairAction{
		{ID: "clean_tmp", Description: "remove orphan temp files from the restart directory"},
		{ID: "drop_corrupt", Description: "delete records whose segments are inconsistent"},
		{ID: "drop_exhausted", Description: "delete records that reached the attempt limit"},
	}
}

// Repair runs the named actions in order.
func (d *Doctor) Repair(ctx context.Context, actions []string) ([]RepairResult, error) {
	var results []RepairResult
	for _, action := range actions {
		var (
			n   int
			err error
		)
		switch action {
		case "clean_tmp":
			n, err = d.cleanTmp()
		case "drop_corrupt":
			n, err = d.dropWhere(ctx, func(r *model.RestartRecord) bool {
				return len(r.Segments) == 0 || r.Validate() != nil
			})
		case "drop_exhausted":
			limit := d.ledger.MaxAttempts()
			n, err = d.dropWhere(ctx, func(r *model.RestartRecord) bool {
				return r.Attempts >= limit
			})
		default:
			return results, fmt.Errorf("unknown repair action: %s", action)
		}
		res := RepairResult{Action: action, Success: err == nil, Cleaned: n}
		if err != nil {
			res.Message = err.Error()
		}
		results = append(results, res)
	}
	return results, nil
}

func (d *Doctor) cleanTmp() (int, error) {
	if d.dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(d.dir, e.Name())); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (d *Doctor) dropWhere(ctx context.Context, match func(*model.RestartRecord) bool) (int, error) {
	recs, err := d.ledger.List(ctx)
	if err != nil && recs == nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		if !match(rec) {
			continue
		}
		if err := d.ledger.Delete(ctx, rec.Identifier()); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
