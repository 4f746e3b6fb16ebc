package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/formexport/internal/core"
)

const reservationColumns = `id::text, file_id::text, ready, status, error, created_by, created_at, updated_by, updated_at`

func (p *Postgres) InsertReservation(ctx context.Context, r core.Reservation) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO file_storage_reservation
			(id, file_id, ready, status, error, created_by, created_at, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.FileID, r.Ready, string(r.Status), r.Error, r.CreatedBy, r.CreatedAt, r.UpdatedBy, r.UpdatedAt,
	)
	return wrap("insert reservation "+r.ID, err)
}

func (p *Postgres) GetReservation(ctx context.Context, id string, forUpdate bool) (core.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM file_storage_reservation WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	r, err := scanReservation(p.db.QueryRow(ctx, query, id))
	if err != nil {
		return core.Reservation{}, wrap("reservation "+id, err)
	}
	return r, nil
}

func (p *Postgres) UpdateReservation(ctx context.Context, r core.Reservation) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE file_storage_reservation
		SET file_id = $2, ready = $3, status = $4, error = $5, updated_by = $6, updated_at = $7
		WHERE id = $1`,
		r.ID, r.FileID, r.Ready, string(r.Status), r.Error, r.UpdatedBy, r.UpdatedAt,
	)
	return expectOne("update reservation "+r.ID, tag, err)
}

func (p *Postgres) DeleteReservation(ctx context.Context, id string) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM file_storage_reservation WHERE id = $1`, id)
	return expectOne("delete reservation "+id, tag, err)
}

// ListReservations returns matching reservations, newest first.
func (p *Postgres) ListReservations(ctx context.Context, filter core.ReservationFilter) ([]core.Reservation, error) {
	wb := newWhereBuilder()
	if filter.FileID != nil {
		wb.AddCond("file_id = %s", *filter.FileID)
	}
	if filter.Ready != nil {
		wb.AddCond("ready = %s", *filter.Ready)
	}
	wb.Add("status", string(filter.Status))
	wb.Add("created_by", filter.CreatedBy)
	if filter.OlderThan != nil {
		wb.AddCond("created_at < %s", *filter.OlderThan)
	}
	if filter.IdleSince != nil {
		wb.AddCond("COALESCE(updated_at, created_at) < %s", *filter.IdleSince)
	}
	where, args := wb.Build()

	rows, err := p.db.Query(ctx,
		`SELECT `+reservationColumns+` FROM file_storage_reservation`+where+` ORDER BY created_at DESC, id DESC`,
		args...,
	)
	if err != nil {
		return nil, wrap("list reservations", err)
	}
	defer rows.Close()

	var out []core.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list reservations", err)
	}
	return out, nil
}

func scanReservation(row interface{ Scan(...any) error }) (core.Reservation, error) {
	var (
		r         core.Reservation
		fileID    pgtype.Text
		status    string
		errText   pgtype.Text
		updatedBy pgtype.Text
		updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&r.ID, &fileID, &r.Ready, &status, &errText, &r.CreatedBy, &r.CreatedAt, &updatedBy, &updatedAt); err != nil {
		return core.Reservation{}, err
	}
	r.FileID = textPtr(fileID)
	r.Status = core.ReservationStatus(status)
	r.Error = textPtr(errText)
	r.UpdatedBy = textPtr(updatedBy)
	r.UpdatedAt = timePtr(updatedAt)
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}
