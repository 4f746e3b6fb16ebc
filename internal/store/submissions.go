package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/formexport/internal/core"
)

func (p *Postgres) FindForm(ctx context.Context, formID string) (core.Form, error) {
	var f core.Form
	err := p.db.QueryRow(ctx,
		`SELECT id::text, name, enable_status_updates FROM form WHERE id = $1`,
		formID,
	).Scan(&f.ID, &f.Name, &f.EnableStatusUpdates)
	if err != nil {
		return core.Form{}, wrap("form "+formID, err)
	}
	return f, nil
}

const formVersionColumns = `id::text, form_id::text, version, schema`

func (p *Postgres) FindFormVersion(ctx context.Context, formID string, version int) (core.FormVersion, error) {
	v, err := scanFormVersion(p.db.QueryRow(ctx,
		`SELECT `+formVersionColumns+` FROM form_version WHERE form_id = $1 AND version = $2`,
		formID, version,
	))
	if err != nil {
		return core.FormVersion{}, wrap(fmt.Sprintf("form %s version %d", formID, version), err)
	}
	return v, nil
}

func (p *Postgres) LatestFormVersion(ctx context.Context, formID string) (core.FormVersion, error) {
	v, err := scanFormVersion(p.db.QueryRow(ctx,
		`SELECT `+formVersionColumns+` FROM form_version WHERE form_id = $1 ORDER BY version DESC LIMIT 1`,
		formID,
	))
	if err != nil {
		return core.FormVersion{}, wrap("latest version of form "+formID, err)
	}
	return v, nil
}

func scanFormVersion(row interface{ Scan(...any) error }) (core.FormVersion, error) {
	var (
		v      core.FormVersion
		schema []byte
	)
	if err := row.Scan(&v.ID, &v.FormID, &v.Version, &schema); err != nil {
		return core.FormVersion{}, err
	}
	v.Schema = schema
	return v, nil
}

const submissionQuery = `SELECT s.id::text, v.form_id::text, s.form_version_id::text, v.version,
	s.confirmation_id, f.name, s.created_at, s.created_by,
	s.full_name, s.username, s.email, s.status, s.assignee, s.assignee_email,
	s.draft, s.deleted, s.submission
FROM form_submission s
JOIN form_version v ON v.id = s.form_version_id
JOIN form f ON f.id = v.form_id`

// QuerySubmissions returns the form's submissions ordered by creation time
// then id. Deleted and draft rows are returned only when asked for, and
// then exclusively.
func (p *Postgres) QuerySubmissions(ctx context.Context, formID string, filter core.SubmissionFilter) ([]core.SubmissionRecord, error) {
	wb := newWhereBuilder()
	wb.AddCond("v.form_id = %s", formID)
	wb.AddCond("s.deleted = %s", filter.Deleted)
	wb.AddCond("s.draft = %s", filter.Drafts)
	if filter.Version != nil {
		wb.AddCond("v.version = %s", *filter.Version)
	}
	if filter.MinDate != nil {
		wb.AddCond("s.created_at >= %s", *filter.MinDate)
	}
	if filter.MaxDate != nil {
		wb.AddCond("s.created_at < %s", *filter.MaxDate)
	}
	where, args := wb.Build()

	rows, err := p.db.Query(ctx, submissionQuery+where+" ORDER BY s.created_at ASC, s.id ASC", args...)
	if err != nil {
		return nil, wrap("query submissions of form "+formID, err)
	}
	defer rows.Close()

	var out []core.SubmissionRecord
	for rows.Next() {
		var (
			r                               core.SubmissionRecord
			fullName, username, email       pgtype.Text
			status, assignee, assigneeEmail pgtype.Text
			data                            []byte
		)
		if err := rows.Scan(
			&r.ID, &r.FormID, &r.FormVersionID, &r.Version,
			&r.ConfirmationID, &r.FormName, &r.CreatedAt, &r.CreatedBy,
			&fullName, &username, &email, &status, &assignee, &assigneeEmail,
			&r.Draft, &r.Deleted, &data,
		); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		r.FullName = textPtr(fullName)
		r.Username = textPtr(username)
		r.Email = textPtr(email)
		r.Status = textPtr(status)
		r.Assignee = textPtr(assignee)
		r.AssigneeEmail = textPtr(assigneeEmail)
		r.Data = data
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("query submissions of form "+formID, err)
	}
	return out, nil
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
