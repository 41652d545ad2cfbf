package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"docvault.org/internal/access"
	"docvault.org/internal/audit"
	"docvault.org/internal/document"
)

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation on a constraint whose name contains fragment.
func isUniqueViolation(err error, fragment string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, fragment)
}

const documentColumns = `id, title, template_id, template_version, type, status, sensitivity, path, hash, size, mime,
	input_data, metadata, version, parent_id, created_at, updated_at, archived_at, created_by, updated_by,
	encrypted, key_ref, readonly, retention_days, coalesce(idempotency_key,'')`

func (s *Store) Create(ctx context.Context, d *document.Document, entry *audit.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	inputData, err := json.Marshal(d.InputData)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(d.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into documents(id, title, template_id, template_version, type, status, sensitivity, path, hash, size, mime,
			input_data, metadata, version, parent_id, created_at, updated_at, created_by, updated_by,
			encrypted, key_ref, readonly, retention_days, idempotency_key)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,nullif($15,''),$16,$17,$18,$19,$20,$21,$22,$23,nullif($24,''))
	`, d.ID, d.Title, d.TemplateID, d.TemplateVersion, d.Type, string(d.Status), d.Sensitivity.String(), d.Path, d.Hash, d.Size, d.MIME,
		inputData, metadata, d.Version, d.ParentID, d.CreatedAt, d.UpdatedAt, d.CreatedBy, d.UpdatedBy,
		d.Encrypted, d.KeyRef, d.Readonly, d.RetentionDays, d.IdempotencyKey); err != nil {
		if isUniqueViolation(err, "idempotency_key") {
			return fmt.Errorf("idempotency key %s: %w", d.IdempotencyKey, document.ErrIdempotencyConflict)
		}
		return err
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Get(ctx context.Context, id string) (document.Document, error) {
	row := s.db.QueryRowContext(ctx, `select `+documentColumns+` from documents where id=$1`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, fmt.Errorf("document %s: %w", id, document.ErrNotFound)
	}
	return d, err
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (document.Document, error) {
	row := s.db.QueryRowContext(ctx, `select `+documentColumns+` from documents where idempotency_key=$1`, key)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, document.ErrNotFound
	}
	return d, err
}

// Transition applies change only while the current status is one of
// from; a zero rows-affected update on an existing row means a lost
// race and surfaces as ErrInvalidTransition.
func (s *Store) Transition(ctx context.Context, id string, from []document.Status, change document.StatusChange, entry *audit.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	// Array literal keeps the parameter a plain string; status values
	// are fixed identifiers so no quoting is needed.
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}
	stateList := "{" + strings.Join(states, ",") + "}"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update documents
		set status=$2, readonly=(case when $3 then true else readonly end),
			archived_at=coalesce($4, archived_at), updated_by=$5, updated_at=$6
		where id=$1 and status = any($7::text[])
	`, id, string(change.To), change.Readonly, change.ArchivedAt, change.UpdatedBy, change.UpdatedAt, stateList)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var status string
		err := tx.QueryRowContext(ctx, `select status from documents where id=$1`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("document %s: %w", id, document.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("document %s is %s: %w", id, status, document.ErrInvalidTransition)
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// Search builds the where clause from the non-zero filter fields. The
// total is counted before limit/offset so pagination stays stable.
func (s *Store) Search(ctx context.Context, f document.SearchFilter) ([]document.Document, int, error) {
	where := []string{"status <> 'deleted'"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Type != "" {
		where = append(where, "type = "+arg(f.Type))
	}
	if f.Sensitivity.Valid() {
		where = append(where, "sensitivity = "+arg(f.Sensitivity.String()))
	}
	if f.CreatedBy != "" {
		where = append(where, "created_by = "+arg(f.CreatedBy))
	}
	if !f.From.IsZero() {
		where = append(where, "created_at >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "created_at <= "+arg(f.To))
	}
	if f.Query != "" {
		p := arg("%" + strings.ToLower(f.Query) + "%")
		where = append(where, fmt.Sprintf("(lower(title) like %s or lower(type) like %s or lower(metadata->>'tags') like %s)", p, p, p))
	}
	cond := strings.Join(where, " and ")

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from documents where `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = document.DefaultSearchPageSize
	}
	query := `select ` + documentColumns + ` from documents where ` + cond +
		` order by created_at desc limit ` + arg(limit) + ` offset ` + arg(f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []document.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

func scanDocument(row rowScanner) (document.Document, error) {
	var d document.Document
	var status, sensitivity string
	var inputData, metadata []byte
	var parentID sql.NullString
	if err := row.Scan(&d.ID, &d.Title, &d.TemplateID, &d.TemplateVersion, &d.Type, &status, &sensitivity,
		&d.Path, &d.Hash, &d.Size, &d.MIME, &inputData, &metadata, &d.Version, &parentID,
		&d.CreatedAt, &d.UpdatedAt, &d.ArchivedAt, &d.CreatedBy, &d.UpdatedBy,
		&d.Encrypted, &d.KeyRef, &d.Readonly, &d.RetentionDays, &d.IdempotencyKey); err != nil {
		return document.Document{}, err
	}
	d.Status = document.Status(status)
	sens, err := access.ParseSensitivity(sensitivity)
	if err != nil {
		return document.Document{}, err
	}
	d.Sensitivity = sens
	if parentID.Valid {
		d.ParentID = parentID.String
	}
	if len(inputData) > 0 {
		if err := json.Unmarshal(inputData, &d.InputData); err != nil {
			return document.Document{}, err
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
			return document.Document{}, err
		}
	}
	return d, nil
}
