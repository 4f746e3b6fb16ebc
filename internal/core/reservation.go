package core

// reservation.go manages export reservations: placeholders that become
// ready once an artifact has been written to the blob store.
//
// Ready means an artifact is available for download. Status describes the
// most recent fulfillment attempt, so a ready reservation that is being
// refreshed is ready=true with status pending, and a refresh that failed
// leaves the previous artifact downloadable with status failed.

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/JonMunkholm/formexport/internal/blob"
	"github.com/JonMunkholm/formexport/internal/events"
	"github.com/JonMunkholm/formexport/internal/metrics"
)

// Reserve creates a new, unfulfilled reservation.
func (s *Service) Reserve(ctx context.Context, owner string) (Reservation, error) {
	r := s.newReservation(owner)
	if err := s.store.InTx(ctx, func(tx Store) error {
		return tx.InsertReservation(ctx, r)
	}); err != nil {
		return Reservation{}, fmt.Errorf("reserve: %w", err)
	}
	s.metrics.Reservation(metrics.ReservationCreated)
	return r, nil
}

func (s *Service) newReservation(owner string) Reservation {
	return Reservation{
		ID:        s.newID(),
		Status:    ReservationPending,
		CreatedBy: owner,
		CreatedAt: s.now(),
	}
}

// Fulfill points the reservation at fileID and marks it ready. Calling it
// again overwrites the previous file id.
func (s *Service) Fulfill(ctx context.Context, id, fileID, owner string) (Reservation, error) {
	var out Reservation
	err := s.store.InTx(ctx, func(tx Store) error {
		r, err := tx.GetReservation(ctx, id, true)
		if err != nil {
			return err
		}
		s.markReady(&r, fileID, owner)
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return Reservation{}, fmt.Errorf("fulfill reservation %s: %w", id, err)
	}
	return out, nil
}

func (s *Service) markReady(r *Reservation, fileID, owner string) {
	now := s.now()
	r.FileID = &fileID
	r.Ready = true
	r.Status = ReservationReady
	r.Error = nil
	r.UpdatedBy = &owner
	r.UpdatedAt = &now
}

// Fail records cause on the reservation. An artifact from an earlier
// successful attempt stays available.
func (s *Service) Fail(ctx context.Context, id string, cause error, owner string) (Reservation, error) {
	var out Reservation
	err := s.store.InTx(ctx, func(tx Store) error {
		r, err := tx.GetReservation(ctx, id, true)
		if err != nil {
			return err
		}
		now := s.now()
		msg := MapError(cause).Message
		r.Status = ReservationFailed
		r.Error = &msg
		r.UpdatedBy = &owner
		r.UpdatedAt = &now
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return Reservation{}, fmt.Errorf("fail reservation %s: %w", id, err)
	}
	s.metrics.Reservation(metrics.ReservationFailed)
	return out, nil
}

// ReadReservation returns the reservation or an error wrapping ErrNotFound.
func (s *Service) ReadReservation(ctx context.Context, id string) (Reservation, error) {
	r, err := s.store.GetReservation(ctx, id, false)
	if err != nil {
		return Reservation{}, fmt.Errorf("read reservation %s: %w", id, err)
	}
	return r, nil
}

// ListReservations returns reservations matching filter, newest first.
func (s *Service) ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error) {
	rs, err := s.store.ListReservations(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return rs, nil
}

// ReleaseReservation deletes a reservation together with its ledger rows,
// its file metadata and its blob. A running fulfillment is cancelled
// first. The blob is deleted last, after every row, and the database
// changes commit only if that delete succeeded.
func (s *Service) ReleaseReservation(ctx context.Context, id string) error {
	s.worker.Cancel(ctx, id)

	var released Reservation
	err := s.store.InTx(ctx, func(tx Store) error {
		r, err := tx.GetReservation(ctx, id, true)
		if err != nil {
			return err
		}
		if _, err := tx.DeleteExportJobsByReservation(ctx, id); err != nil {
			return err
		}
		if r.FileID != nil {
			if err := tx.DeleteFile(ctx, *r.FileID); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		if err := tx.DeleteReservation(ctx, id); err != nil {
			return err
		}
		if r.FileID != nil {
			if _, err := s.blobs.Delete(ctx, *r.FileID); err != nil {
				return &StorageError{Op: "delete", Err: err}
			}
		}
		released = r
		return nil
	})
	if err != nil {
		return fmt.Errorf("release reservation %s: %w", id, err)
	}

	fileID := ""
	if released.FileID != nil {
		fileID = *released.FileID
	}
	s.metrics.Reservation(metrics.ReservationReleased)
	s.publish(ctx, events.Event{
		Type:          events.ReservationReleased,
		ReservationID: id,
		FileID:        fileID,
		Owner:         OwnerFromContext(ctx),
	})
	return nil
}

// OpenArtifact opens the stored export behind a ready reservation. The
// caller closes the reader.
func (s *Service) OpenArtifact(ctx context.Context, id string) (io.ReadCloser, StoredFile, error) {
	r, err := s.ReadReservation(ctx, id)
	if err != nil {
		return nil, StoredFile{}, err
	}
	if !r.Ready || r.FileID == nil {
		return nil, StoredFile{}, fmt.Errorf("reservation %s: %w", id, ErrNotReady)
	}

	f, err := s.store.GetFile(ctx, *r.FileID)
	if err != nil {
		return nil, StoredFile{}, fmt.Errorf("reservation %s file: %w", id, err)
	}
	rc, err := s.blobs.Open(ctx, f.ID)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, StoredFile{}, fmt.Errorf("reservation %s blob: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, StoredFile{}, &StorageError{Op: "open", Err: err}
	}
	return rc, f, nil
}
