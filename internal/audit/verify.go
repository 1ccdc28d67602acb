package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"tenantcore.io/internal/obs"
)

// Integrity summarises a verification run.
type Integrity string

const (
	IntegrityValid   Integrity = "valid"
	IntegrityInvalid Integrity = "invalid"
	IntegrityPartial Integrity = "partial"
)

// IssueKind classifies a broken link.
type IssueKind string

const (
	IssuePreviousHashMismatch IssueKind = "previous_hash_mismatch"
	IssueHashMismatch         IssueKind = "hash_mismatch"
)

// Issue describes one problem found in the chain.
type Issue struct {
	EntryID   string    `json:"entry_id"`
	Kind      IssueKind `json:"kind"`
	Expected  string    `json:"expected"`
	Actual    string    `json:"actual"`
	CreatedAt time.Time `json:"created_at"`
}

// Report is the outcome of verifying one tenant chain.
type Report struct {
	TenantID       uuid.UUID `json:"tenant_id"`
	VerifiedAt     time.Time `json:"verified_at"`
	TotalEntries   int       `json:"total_entries"`
	ValidEntries   int       `json:"valid_entries"`
	InvalidEntries int       `json:"invalid_entries"`
	ChainIntegrity Integrity `json:"chain_integrity"`
	Issues         []Issue   `json:"issues"`
	GenesisHash    string    `json:"genesis_hash"`
	LatestHash     string    `json:"latest_hash"`
}

// Verify walks the tenant chain. Storage errors are returned; broken links
// are reported, not returned.
func (l *Ledger) Verify(ctx context.Context, tenantID uuid.UUID) (Report, error) {
	ctx, span := l.tracer.Start(ctx, "audit.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID.String()))

	// one snapshot; entries appended during the walk belong to the next run
	entries, err := l.store.Entries(ctx, tenantID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		l.logger.ErrorContext(ctx, "audit verification failed", "tenant_id", tenantID, "error", err)
		return Report{}, fmt.Errorf("load audit chain: %w", err)
	}
	report := VerifyEntries(tenantID, entries, l.now().UTC())
	obs.AuditVerifications.WithLabelValues(string(report.ChainIntegrity)).Inc()
	span.SetAttributes(attribute.String("audit.integrity", string(report.ChainIntegrity)))
	if report.ChainIntegrity != IntegrityValid {
		l.logger.WarnContext(ctx, "audit chain integrity problem",
			"tenant_id", tenantID,
			"integrity", report.ChainIntegrity,
			"issues", len(report.Issues),
		)
	}
	return report, nil
}

// VerifyEntries checks entries already ordered by (created_at, id).
//
// Each entry's previous_hash must equal the running hash; on mismatch the
// running hash resynchronises to the entry's stored current_hash so later
// links are still judged on their own. Each entry's current_hash must match
// the recomputed hash. An entry is valid only if both checks pass.
func VerifyEntries(tenantID uuid.UUID, entries []Entry, verifiedAt time.Time) Report {
	report := Report{
		TenantID:     tenantID,
		VerifiedAt:   verifiedAt,
		TotalEntries: len(entries),
		Issues:       []Issue{},
		GenesisHash:  GenesisHash,
		LatestHash:   GenesisHash,
	}
	running := GenesisHash
	for _, e := range entries {
		ok := true
		if e.PreviousHash != running {
			ok = false
			report.Issues = append(report.Issues, Issue{
				EntryID:   e.ID,
				Kind:      IssuePreviousHashMismatch,
				Expected:  running,
				Actual:    e.PreviousHash,
				CreatedAt: e.CreatedAt,
			})
		}
		recomputed, err := recompute(e)
		if err != nil || recomputed != e.CurrentHash {
			ok = false
			report.Issues = append(report.Issues, Issue{
				EntryID:   e.ID,
				Kind:      IssueHashMismatch,
				Expected:  recomputed,
				Actual:    e.CurrentHash,
				CreatedAt: e.CreatedAt,
			})
		}
		if ok {
			report.ValidEntries++
		} else {
			report.InvalidEntries++
		}
		running = e.CurrentHash
	}
	if len(entries) > 0 {
		report.LatestHash = entries[len(entries)-1].CurrentHash
	}
	switch {
	case len(report.Issues) == 0:
		report.ChainIntegrity = IntegrityValid
	case report.ValidEntries == 0:
		report.ChainIntegrity = IntegrityInvalid
	default:
		report.ChainIntegrity = IntegrityPartial
	}
	return report
}

func recompute(e Entry) (string, error) {
	payload, err := Canonicalize(e.Payload)
	if err != nil {
		return "", err
	}
	return ComputeHash(e.PreviousHash, payload, e.CreatedAt), nil
}
