package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"docvault.org/internal/template"
)

func (s *Store) CreateTemplate(ctx context.Context, t *template.Template, v *template.Version) error {
	placeholders, err := json.Marshal(t.Placeholders)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into templates(id, name, category, description, current_version, path, format, placeholders, metadata, active, created_at, updated_at, created_by)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, t.ID, t.Name, t.Category, t.Description, t.CurrentVersion, t.Path, string(t.Format), placeholders, metadata, t.Active, t.CreatedAt, t.UpdatedAt, t.CreatedBy); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into template_versions(id, template_id, number, path, hash, description, change_summary, created_at, created_by)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, v.ID, v.TemplateID, v.Number, v.Path, v.Hash, v.Description, v.ChangeSummary, v.CreatedAt, v.CreatedBy); err != nil {
		return err
	}
	return tx.Commit()
}

// AddVersion locks the template row, assigns max(number)+1 and bumps
// current_version in the same transaction. Concurrent callers on one
// template serialize on the row lock.
func (s *Store) AddVersion(ctx context.Context, templateID string, v *template.Version) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var dummy int
	err = tx.QueryRowContext(ctx, `select 1 from templates where id=$1 for update`, templateID).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("template %s: %w", templateID, template.ErrNotFound)
	}
	if err != nil {
		return 0, err
	}

	var next int
	if err := tx.QueryRowContext(ctx, `
		select coalesce(max(number),0)+1 from template_versions where template_id=$1
	`, templateID).Scan(&next); err != nil {
		return 0, err
	}
	v.Number = next

	if _, err := tx.ExecContext(ctx, `
		insert into template_versions(id, template_id, number, path, hash, description, change_summary, created_at, created_by)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, v.ID, v.TemplateID, next, v.Path, v.Hash, v.Description, v.ChangeSummary, v.CreatedAt, v.CreatedBy); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `
		update templates set current_version=$2, path=$3, updated_at=$4 where id=$1
	`, templateID, next, v.Path, v.CreatedAt); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

const templateColumns = `id, name, category, description, current_version, path, format, placeholders, metadata, active, created_at, updated_at, created_by`

func (s *Store) GetTemplate(ctx context.Context, id string) (template.Template, error) {
	row := s.db.QueryRowContext(ctx, `select `+templateColumns+` from templates where id=$1`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return template.Template{}, fmt.Errorf("template %s: %w", id, template.ErrNotFound)
	}
	return t, err
}

func (s *Store) GetVersion(ctx context.Context, templateID string, number int) (template.Version, error) {
	var v template.Version
	err := s.db.QueryRowContext(ctx, `
		select id, template_id, number, path, hash, description, change_summary, created_at, created_by
		from template_versions where template_id=$1 and number=$2
	`, templateID, number).Scan(&v.ID, &v.TemplateID, &v.Number, &v.Path, &v.Hash, &v.Description, &v.ChangeSummary, &v.CreatedAt, &v.CreatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return template.Version{}, fmt.Errorf("template %s version %d: %w", templateID, number, template.ErrNotFound)
	}
	if err != nil {
		return template.Version{}, err
	}
	return v, nil
}

func (s *Store) ListTemplates(ctx context.Context, category string, activeOnly bool) ([]template.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+templateColumns+` from templates
		where ($1='' or category=$1) and (not $2 or active)
		order by name
	`, category, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []template.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) DeactivateTemplate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `update templates set active=false, updated_at=now() where id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("template %s: %w", id, template.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (template.Template, error) {
	var t template.Template
	var format string
	var placeholders, metadata []byte
	if err := row.Scan(&t.ID, &t.Name, &t.Category, &t.Description, &t.CurrentVersion, &t.Path, &format, &placeholders, &metadata, &t.Active, &t.CreatedAt, &t.UpdatedAt, &t.CreatedBy); err != nil {
		return template.Template{}, err
	}
	t.Format = template.Format(format)
	if len(placeholders) > 0 {
		if err := json.Unmarshal(placeholders, &t.Placeholders); err != nil {
			return template.Template{}, err
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return template.Template{}, err
		}
	}
	return t, nil
}
