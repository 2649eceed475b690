package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/aussiebroadwan/securehealth/internal/gateway/domain"
)

type auditRepo struct {
	q querier
}

const auditColumns = `a.seq, a.id, a.action, a.user_id, a.details, a.ip_address, a.occurred_at, a.prev_hash, a.hash`

func (r *auditRepo) AppendAuditEntry(ctx context.Context, e domain.AuditEntry) (domain.AuditEntry, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO audit_entries (id, action, user_id, details, ip_address, occurred_at, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Action), mapOptionalString(e.UserID), e.Details, e.IPAddress,
		formatTime(e.Timestamp), e.PrevHash, e.Hash,
	)
	if err != nil {
		return domain.AuditEntry{}, mapConstraint(err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return domain.AuditEntry{}, err
	}
	e.Seq = seq
	return e, nil
}

func (r *auditRepo) LastAuditEntry(ctx context.Context) (domain.AuditEntry, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_entries a ORDER BY a.seq DESC LIMIT 1`)
	return scanAuditEntry(row)
}

func (r *auditRepo) QueryAuditEntries(ctx context.Context, f domain.AuditFilter) ([]domain.AuditRecord, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Actions) > 0 {
		marks := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			marks[i] = "?"
			args = append(args, string(a))
		}
		where = append(where, "a.action IN ("+strings.Join(marks, ", ")+")")
	}
	if f.UserID != "" {
		where = append(where, "a.user_id = ?")
		args = append(args, f.UserID)
	}
	if !f.Since.IsZero() {
		where = append(where, "a.occurred_at >= ?")
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "a.occurred_at < ?")
		args = append(args, formatTime(f.Until))
	}

	query := `SELECT ` + auditColumns + `, u.username, u.email
		FROM audit_entries a
		LEFT JOIN users u ON u.id = a.user_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY a.occurred_at DESC, a.seq DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditRecord
	for rows.Next() {
		var (
			rec             domain.AuditRecord
			username, email sql.NullString
		)
		if rec.AuditEntry, err = scanAuditEntry(rows, &username, &email); err != nil {
			return nil, err
		}
		rec.Username = mapNullStringPtr(username)
		rec.Email = mapNullStringPtr(email)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *auditRepo) ScanAuditEntries(ctx context.Context, fn func(domain.AuditEntry) error) error {
	rows, err := r.q.QueryContext(ctx, `SELECT `+auditColumns+` FROM audit_entries a ORDER BY a.seq ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func scanAuditEntry(s scanner, extra ...any) (domain.AuditEntry, error) {
	var (
		e          domain.AuditEntry
		action     string
		userID     sql.NullString
		occurredAt string
	)
	dest := append([]any{&e.Seq, &e.ID, &action, &userID, &e.Details, &e.IPAddress, &occurredAt, &e.PrevHash, &e.Hash}, extra...)
	if err := s.Scan(dest...); err != nil {
		return domain.AuditEntry{}, mapNotFound(err)
	}

	// Unknown actions are returned verbatim; the vocabulary only governs writes.
	e.Action = domain.AuditAction(action)
	e.UserID = mapNullStringPtr(userID)

	ts, err := parseTime(occurredAt)
	if err != nil {
		return domain.AuditEntry{}, err
	}
	e.Timestamp = ts
	return e, nil
}
