package service

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/securehealth/internal/gateway/domain"
	"github.com/aussiebroadwan/securehealth/internal/gateway/observability"
	"github.com/aussiebroadwan/securehealth/internal/gateway/store"
	"github.com/aussiebroadwan/securehealth/pkg/idx"
	"github.com/aussiebroadwan/securehealth/pkg/slogx"
)

const (
	DefaultAuditLimit = 100
	MaxAuditLimit     = 500
)

// GenesisHash is the prev_hash of the first entry in the chain.
var GenesisHash = strings.Repeat("0", 64)

// AuditEvent is what callers supply; identity, time and hashes are assigned
// on append.
type AuditEvent struct {
	Action    domain.AuditAction
	UserID    *string
	Details   string
	IPAddress string
}

// Auditor records audit events synchronously.
type Auditor interface {
	Record(ctx context.Context, ev AuditEvent) error
}

type AuditService struct {
	Store   store.Store
	Metrics *observability.Metrics

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

func (s *AuditService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// Record appends ev in its own transaction. A failure is logged and counted
// before being returned; callers decide whether it matters.
func (s *AuditService) Record(ctx context.Context, ev AuditEvent) error {
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		return s.RecordTx(ctx, tx, ev)
	})
	if err != nil {
		s.Metrics.AuditFailure()
		slogx.FromContext(ctx).Error("audit record failed",
			"action", string(ev.Action),
			"err", err,
		)
		return fmt.Errorf("record audit entry: %w", err)
	}
	s.Metrics.AuditRecorded(string(ev.Action))
	return nil
}

// RecordTx appends ev inside an existing transaction so that it commits or
// rolls back together with the change it describes.
func (s *AuditService) RecordTx(ctx context.Context, tx store.Tx, ev AuditEvent) error {
	if !ev.Action.Valid() {
		return fmt.Errorf("%w: unknown audit action %q", ErrValidation, ev.Action)
	}

	prev := GenesisHash
	last, err := tx.Audit().LastAuditEntry(ctx)
	switch {
	case err == nil:
		prev = last.Hash
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("load chain head: %w", err)
	}

	now := s.now()
	e := domain.AuditEntry{
		ID:        idx.NewAt(now).String(),
		Action:    ev.Action,
		UserID:    ev.UserID,
		Details:   ev.Details,
		IPAddress: ev.IPAddress,
		Timestamp: now,
		PrevHash:  prev,
	}
	e.Hash = ChainHash(prev, e)

	if _, err := tx.Audit().AppendAuditEntry(ctx, e); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ChainHash is SHA-256 over the previous hash and the entry's content fields,
// each length-prefixed so that field boundaries cannot be shifted.
func ChainHash(prev string, e domain.AuditEntry) string {
	userID := ""
	if e.UserID != nil {
		userID = *e.UserID
	}

	h := sha256.New()
	for _, f := range []string{
		prev,
		e.ID,
		string(e.Action),
		userID,
		e.Details,
		e.IPAddress,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	} {
		_, _ = fmt.Fprintf(h, "%d:%s;", len(f), f)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Query returns matching entries newest first. The limit defaults to
// DefaultAuditLimit and is capped at MaxAuditLimit.
func (s *AuditService) Query(ctx context.Context, f domain.AuditFilter) ([]domain.AuditRecord, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultAuditLimit
	case f.Limit > MaxAuditLimit:
		f.Limit = MaxAuditLimit
	}
	return s.Store.Audit().QueryAuditEntries(ctx, f)
}

var csvHeader = []string{"id", "username", "email", "action", "ipAddress", "details", "timestamp"}

// Export writes matching entries as CSV. A zero limit exports everything.
func (s *AuditService) Export(ctx context.Context, w io.Writer, f domain.AuditFilter) error {
	if err := validateFilter(f); err != nil {
		return err
	}
	records, err := s.Store.Audit().QueryAuditEntries(ctx, f)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.ID,
			orNA(r.Username),
			orNA(r.Email),
			string(r.Action),
			r.IPAddress,
			r.Details,
			r.Timestamp.UTC().Format(time.RFC3339),
		}
		for i := range row {
			row[i] = neutralizeFormula(row[i])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func orNA(s *string) string {
	if s == nil || *s == "" {
		return "N/A"
	}
	return *s
}

// neutralizeFormula prefixes cells that a spreadsheet would evaluate as a
// formula with a single quote.
func neutralizeFormula(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}

func validateFilter(f domain.AuditFilter) error {
	for _, a := range f.Actions {
		if !a.Valid() {
			return fmt.Errorf("%w: unknown audit action %q", ErrValidation, a)
		}
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && !f.Since.Before(f.Until) {
		return fmt.Errorf("%w: since must be before until", ErrValidation)
	}
	return nil
}

// ChainReport is the outcome of VerifyChain.
type ChainReport struct {
	Valid    bool
	Checked  int
	BrokenAt string // id of the first entry that fails
	Reason   string
}

var errStopScan = errors.New("stop scan")

// VerifyChain recomputes the hash chain from the genesis entry forward and
// reports the first entry that does not link up.
func (s *AuditService) VerifyChain(ctx context.Context) (ChainReport, error) {
	report := ChainReport{Valid: true}
	prev := GenesisHash

	err := s.Store.Audit().ScanAuditEntries(ctx, func(e domain.AuditEntry) error {
		report.Checked++
		switch {
		case e.PrevHash != prev:
			report.Reason = "prev_hash does not match previous entry (seq " + strconv.FormatInt(e.Seq, 10) + ")"
		case ChainHash(prev, e) != e.Hash:
			report.Reason = "content hash mismatch (seq " + strconv.FormatInt(e.Seq, 10) + ")"
		default:
			prev = e.Hash
			return nil
		}
		report.Valid = false
		report.BrokenAt = e.ID
		return errStopScan
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return ChainReport{}, err
	}
	return report, nil
}
