package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/formexport/internal/core"
)

// LockExportKey takes a transaction-scoped advisory lock on the pair.
func (p *Postgres) LockExportKey(ctx context.Context, formID, formVersionID string) error {
	_, err := p.db.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1::text || ':' || $2::text))`,
		formID, formVersionID,
	)
	return wrap("lock export "+formID+"/"+formVersionID, err)
}

const exportJobColumns = `id::text, form_id::text, form_version_id::text, reservation_id::text, created_by, created_at, updated_by, updated_at`

func (p *Postgres) ListExportJobs(ctx context.Context, formID, formVersionID string) ([]core.ExportJob, error) {
	return p.queryExportJobs(ctx, "list export jobs",
		`SELECT `+exportJobColumns+` FROM submissions_export
		WHERE form_id = $1 AND form_version_id = $2
		ORDER BY created_at DESC`,
		formID, formVersionID,
	)
}

func (p *Postgres) queryExportJobs(ctx context.Context, what, query string, args ...any) ([]core.ExportJob, error) {
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap(what, err)
	}
	defer rows.Close()

	var out []core.ExportJob
	for rows.Next() {
		var (
			j         core.ExportJob
			updatedBy pgtype.Text
			updatedAt pgtype.Timestamptz
		)
		if err := rows.Scan(&j.ID, &j.FormID, &j.FormVersionID, &j.ReservationID, &j.CreatedBy, &j.CreatedAt, &updatedBy, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan export job: %w", err)
		}
		j.UpdatedBy = textPtr(updatedBy)
		j.UpdatedAt = timePtr(updatedAt)
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(what, err)
	}
	return out, nil
}

func (p *Postgres) InsertExportJob(ctx context.Context, j core.ExportJob) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO submissions_export
			(id, form_id, form_version_id, reservation_id, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		j.ID, j.FormID, j.FormVersionID, j.ReservationID, j.CreatedBy, j.CreatedAt,
	)
	return wrap("insert export job", err)
}

func (p *Postgres) UpdateExportJob(ctx context.Context, id, updatedBy string, at time.Time) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE submissions_export SET updated_by = $2, updated_at = $3 WHERE id = $1`,
		id, updatedBy, at,
	)
	return expectOne("update export job "+id, tag, err)
}

func (p *Postgres) DeleteExportJobsByReservation(ctx context.Context, reservationID string) (int64, error) {
	tag, err := p.db.Exec(ctx, `DELETE FROM submissions_export WHERE reservation_id = $1`, reservationID)
	if err != nil {
		return 0, wrap("delete export jobs of reservation "+reservationID, err)
	}
	return tag.RowsAffected(), nil
}
