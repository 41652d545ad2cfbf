package pg

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"docvault.org/internal/access"
	"docvault.org/internal/audit"
)

func insertEntry(ctx context.Context, tx *sql.Tx, e *audit.Entry) error {
	_, err := tx.ExecContext(ctx, `
		insert into document_access_log(id, document_id, user_id, action, outcome, reason, origin, agent, occurred_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, e.ID, e.DocumentID, e.UserID, string(e.Action), string(e.Outcome), e.Reason, e.Origin, e.Agent, e.OccurredAt)
	return err
}

func (s *Store) Append(ctx context.Context, e *audit.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into document_access_log(id, document_id, user_id, action, outcome, reason, origin, agent, occurred_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, e.ID, e.DocumentID, e.UserID, string(e.Action), string(e.Outcome), e.Reason, e.Origin, e.Agent, e.OccurredAt)
	return err
}

func (s *Store) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	where := []string{"true"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.DocumentID != "" {
		where = append(where, "document_id = "+arg(f.DocumentID))
	}
	if f.UserID != "" {
		where = append(where, "user_id = "+arg(f.UserID))
	}
	if f.Action != "" {
		where = append(where, "action = "+arg(string(f.Action)))
	}
	if !f.From.IsZero() {
		where = append(where, "occurred_at >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "occurred_at <= "+arg(f.To))
	}
	// pagination is caller-supplied verbatim; a non-positive limit
	// returns every match, like the in-memory store
	query := `
		select id, document_id, user_id, action, outcome, reason, origin, agent, occurred_at
		from document_access_log
		where ` + strings.Join(where, " and ") + `
		order by occurred_at asc`
	if f.Limit > 0 {
		query += ` limit ` + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += ` offset ` + arg(f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var action, outcome string
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.UserID, &action, &outcome, &e.Reason, &e.Origin, &e.Agent, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Action = access.Action(action)
		e.Outcome = audit.Outcome(outcome)
		out = append(out, e)
	}
	return out, rows.Err()
}
