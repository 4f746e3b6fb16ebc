package core

import (
	"context"
	"time"
)

// SubmissionSource reads forms and their submissions.
type SubmissionSource interface {
	FindForm(ctx context.Context, formID string) (Form, error)
	FindFormVersion(ctx context.Context, formID string, version int) (FormVersion, error)
	LatestFormVersion(ctx context.Context, formID string) (FormVersion, error)

	// QuerySubmissions returns matching submissions ordered by creation
	// time, then id.
	QuerySubmissions(ctx context.Context, formID string, filter SubmissionFilter) ([]SubmissionRecord, error)
}

// ReservationStore persists reservations.
type ReservationStore interface {
	InsertReservation(ctx context.Context, r Reservation) error
	// GetReservation reads a reservation. With forUpdate set the row stays
	// locked until the surrounding transaction ends.
	GetReservation(ctx context.Context, id string, forUpdate bool) (Reservation, error)
	UpdateReservation(ctx context.Context, r Reservation) error
	DeleteReservation(ctx context.Context, id string) error
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
}

// ExportJobStore persists the export job ledger.
type ExportJobStore interface {
	// LockExportKey serializes ledger access for one (form, version) pair
	// until the surrounding transaction ends.
	LockExportKey(ctx context.Context, formID, formVersionID string) error
	// ListExportJobs returns jobs for the pair, most recent first.
	ListExportJobs(ctx context.Context, formID, formVersionID string) ([]ExportJob, error)
	InsertExportJob(ctx context.Context, j ExportJob) error
	UpdateExportJob(ctx context.Context, id, updatedBy string, at time.Time) error
	DeleteExportJobsByReservation(ctx context.Context, reservationID string) (int64, error)
}

// FileStore persists blob metadata rows.
type FileStore interface {
	GetFile(ctx context.Context, id string) (StoredFile, error)
	UpsertFile(ctx context.Context, f StoredFile) error
	DeleteFile(ctx context.Context, id string) error
}

// Store is the relational store behind the export service. Lookups and
// deletes of absent rows return an error wrapping ErrNotFound; unique
// violations wrap ErrConflict.
type Store interface {
	SubmissionSource
	ReservationStore
	ExportJobStore
	FileStore

	// InTx runs fn against a transactional Store. The transaction commits
	// when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Store) error) error
}
