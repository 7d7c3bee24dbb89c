package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/PratikDhanave/conversions-gateway/internal/models"
)

// ErrAlreadyClosed is returned when closing a record that already reached a
// terminal state. Terminal records are never rewritten.
var ErrAlreadyClosed = errors.New("audit record already closed")

// AuditEntry is what the pipeline knows when it opens a record.
type AuditEntry struct {
	IdentityToken    string
	EventName        string
	IdempotencyToken string
	RawPayload       []byte
}

// AuditFilter narrows audit counts and listings. Zero fields are ignored.
// The time window is half-open: [From, To).
type AuditFilter struct {
	IdentityToken string
	EventName     string
	Status        models.AuditStatus
	From          time.Time
	To            time.Time
	Limit         int
}

// Open inserts a RECEIVED record and returns its id.
func (p *PostgresStore) Open(ctx context.Context, e AuditEntry) (string, error) {
	id := uuid.New().String()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO audit_records(id, identity_token, event_name, idempotency_token, status, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, e.IdentityToken, e.EventName, e.IdempotencyToken, string(models.AuditReceived), jsonDocument(e.RawPayload))
	if err != nil {
		return "", fmt.Errorf("opening audit record: %w", err)
	}
	return id, nil
}

// Close moves a RECEIVED record to its terminal outcome.
func (p *PostgresStore) Close(ctx context.Context, id string, outcome models.AuditOutcome) error {
	if !outcome.Status.Terminal() {
		return fmt.Errorf("closing audit record with non-terminal status %q", outcome.Status)
	}
	detail, err := json.Marshal(outcome.Detail)
	if err != nil {
		return fmt.Errorf("encoding audit detail: %w", err)
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE audit_records
		SET status = $2, detail = $3, updated_at = now()
		WHERE id = $1 AND status = 'RECEIVED'
	`, id, string(outcome.Status), detail)
	if err != nil {
		return fmt.Errorf("closing audit record: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status string
	err = p.pool.QueryRow(ctx, `SELECT status FROM audit_records WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("closing audit record: %w", err)
	}
	return ErrAlreadyClosed
}

const auditColumns = `id::text, identity_token, event_name, idempotency_token, status,
	raw_payload, detail, created_at, updated_at`

// GetAuditRecord reads one record by id.
func (p *PostgresStore) GetAuditRecord(ctx context.Context, id string) (*models.AuditRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	row := p.pool.QueryRow(ctx, `SELECT `+auditColumns+` FROM audit_records WHERE id = $1`, id)
	rec, err := scanAudit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading audit record: %w", err)
	}
	return rec, nil
}

// CountAuditRecords returns the number of records matching f.
func (p *PostgresStore) CountAuditRecords(ctx context.Context, f AuditFilter) (int64, error) {
	where, args := f.where()
	var count int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_records`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting audit records: %w", err)
	}
	return count, nil
}

// ListAuditRecords returns matching records, newest first. A limit that is
// unset or above 1000 falls back to 100.
func (p *PostgresStore) ListAuditRecords(ctx context.Context, f AuditFilter) ([]models.AuditRecord, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	where, args := f.where()
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM audit_records%s ORDER BY created_at DESC LIMIT $%d`,
		auditColumns, where, len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing audit records: %w", err)
	}
	defer rows.Close()

	var out []models.AuditRecord
	for rows.Next() {
		rec, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (f AuditFilter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.IdentityToken != "" {
		add("identity_token = $%d", f.IdentityToken)
	}
	if f.EventName != "" {
		add("event_name = $%d", f.EventName)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanAudit(row pgx.Row) (*models.AuditRecord, error) {
	var (
		rec    models.AuditRecord
		status string
		raw    []byte
		detail []byte
	)
	err := row.Scan(&rec.ID, &rec.IdentityToken, &rec.EventName, &rec.IdempotencyToken, &status,
		&raw, &detail, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = models.AuditStatus(status)
	if len(raw) > 0 {
		rec.RawPayload = raw
	}
	if len(detail) > 0 {
		rec.Detail = detail
	}
	return &rec, nil
}

// jsonDocument returns raw when it is valid JSON; anything else is stored as a
// JSON string so malformed client payloads are still kept for debugging.
func jsonDocument(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return raw
	}
	b, _ := json.Marshal(string(raw))
	return b
}
