package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/formexport/internal/events"
	"github.com/JonMunkholm/formexport/internal/export"
	"github.com/JonMunkholm/formexport/internal/logging"
	"github.com/JonMunkholm/formexport/internal/metrics"
)

// GetOrCreateExportJob returns the reservation tracking exports of one form
// version, creating the ledger row and reservation on first use. A failed
// or ready reservation is re-armed to pending so it can be regenerated.
func (s *Service) GetOrCreateExportJob(ctx context.Context, formID, formVersionID, owner string) (Reservation, error) {
	_, r, err := s.getOrCreateExportJob(ctx, formID, formVersionID, owner)
	return r, err
}

func (s *Service) getOrCreateExportJob(ctx context.Context, formID, formVersionID, owner string) (ExportJob, Reservation, error) {
	job, r, outcome, err := s.attemptExportJob(ctx, formID, formVersionID, owner)
	if errors.Is(err, ErrConflict) {
		// A concurrent writer created the row between our read and insert.
		job, r, outcome, err = s.attemptExportJob(ctx, formID, formVersionID, owner)
	}
	if err != nil {
		return ExportJob{}, Reservation{}, fmt.Errorf("export job for form %s version %s: %w", formID, formVersionID, err)
	}
	s.metrics.Reservation(outcome)
	return job, r, nil
}

func (s *Service) attemptExportJob(ctx context.Context, formID, formVersionID, owner string) (ExportJob, Reservation, string, error) {
	var (
		job     ExportJob
		res     Reservation
		outcome string
	)
	err := s.store.InTx(ctx, func(tx Store) error {
		if err := tx.LockExportKey(ctx, formID, formVersionID); err != nil {
			return err
		}
		jobs, err := tx.ListExportJobs(ctx, formID, formVersionID)
		if err != nil {
			return err
		}

		if len(jobs) > 0 {
			job = jobs[0]
			r, err := tx.GetReservation(ctx, job.ReservationID, true)
			switch {
			case err == nil:
				outcome = metrics.ReservationReused
				if r.Status != ReservationPending {
					if err := s.rearm(ctx, tx, &r, job.ID, owner); err != nil {
						return err
					}
					outcome = metrics.ReservationRearmed
				}
				res = r
				return nil
			case errors.Is(err, ErrNotFound):
				if _, err := tx.DeleteExportJobsByReservation(ctx, job.ReservationID); err != nil {
					return err
				}
			default:
				return err
			}
		}

		res = s.newReservation(owner)
		if err := tx.InsertReservation(ctx, res); err != nil {
			return err
		}
		job = ExportJob{
			ID:            s.newID(),
			FormID:        formID,
			FormVersionID: formVersionID,
			ReservationID: res.ID,
			CreatedBy:     owner,
			CreatedAt:     res.CreatedAt,
		}
		if err := tx.InsertExportJob(ctx, job); err != nil {
			return err
		}
		outcome = metrics.ReservationCreated
		return nil
	})
	return job, res, outcome, err
}

func (s *Service) rearm(ctx context.Context, tx Store, r *Reservation, jobID, owner string) error {
	now := s.now()
	r.Status = ReservationPending
	r.Error = nil
	r.UpdatedBy = &owner
	r.UpdatedAt = &now
	if err := tx.UpdateReservation(ctx, *r); err != nil {
		return err
	}
	return tx.UpdateExportJob(ctx, jobID, owner, now)
}

// ExportWithReservation returns the reservation for the requested form
// version at once and produces the artifact in the background. Requests
// for the same form version share one reservation. A request arriving
// while that reservation's export is running queues one regeneration to
// start after it.
func (s *Service) ExportWithReservation(ctx context.Context, formID string, req export.Request, owner string) (Reservation, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return Reservation{}, err
	}
	if owner == "" {
		return Reservation{}, fmt.Errorf("%w: owner is required", ErrInvalidRequest)
	}

	form, err := s.store.FindForm(ctx, formID)
	if err != nil {
		return Reservation{}, fmt.Errorf("find form %s: %w", formID, err)
	}
	version, err := resolveVersion(ctx, s.store, formID, req.Version)
	if err != nil {
		return Reservation{}, fmt.Errorf("resolve form %s version: %w", formID, err)
	}
	v := version.Version
	req.Version = &v

	job, res, err := s.getOrCreateExportJob(ctx, formID, version.ID, owner)
	if err != nil {
		return Reservation{}, err
	}

	f := fulfillment{
		form:          form,
		version:       version,
		jobID:         job.ID,
		reservationID: res.ID,
		owner:         owner,
		req:           req,
	}
	s.publish(ctx, f.event(events.ExportRequested))

	started, err := s.worker.Submit(ctx, res.ID,
		func(ctx context.Context) error { return s.fulfillExport(ctx, f) },
		func(err error) { s.recordFailure(ctx, f, err) },
	)
	if errors.Is(err, ErrWorkerClosed) {
		s.recordFailure(ctx, f, err)
	} else if err != nil {
		return Reservation{}, err
	}

	logging.WithFields(ctx,
		"form_id", formID,
		"form_version_id", version.ID,
		"reservation_id", res.ID,
	).Info("export reserved", "owner", owner, "started", started, "status", res.Status)
	return res, nil
}

// fulfillment carries one background export.
type fulfillment struct {
	form          Form
	version       FormVersion
	jobID         string
	reservationID string
	owner         string
	req           export.Request
}

func (f fulfillment) event(t events.Type) events.Event {
	return events.Event{
		Type:          t,
		ReservationID: f.reservationID,
		FormID:        f.form.ID,
		FormVersionID: f.version.ID,
		Owner:         f.owner,
	}
}

// fulfillExport renders the export, stores it and marks the reservation
// ready. A reservation released while the export ran is left alone and the
// uploaded blob is removed.
func (s *Service) fulfillExport(ctx context.Context, f fulfillment) error {
	defer s.metrics.FulfillmentStarted()()
	log := logging.WithFields(ctx, "reservation_id", f.reservationID, "form_id", f.form.ID)

	start := time.Now()
	in, err := s.loadVersion(ctx, s.store, f.form, f.version, f.req)
	if err != nil {
		return err
	}
	res, err := export.Render(in.form, in.fields, in.subs, f.req)
	s.observe(metrics.ModeReservation, f.req, start, res, err)
	if err != nil {
		return err
	}

	current, err := s.store.GetReservation(ctx, f.reservationID, false)
	if errors.Is(err, ErrNotFound) {
		log.Info("reservation released before export finished")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read reservation: %w", err)
	}

	fileID, fresh := s.newID(), true
	if current.FileID != nil {
		fileID, fresh = *current.FileID, false
	}
	if err := s.blobs.Upload(ctx, fileID, res.Filename, res.Data); err != nil {
		return &StorageError{Op: "upload", Err: err}
	}

	err = s.store.InTx(ctx, func(tx Store) error {
		r, err := tx.GetReservation(ctx, f.reservationID, true)
		if err != nil {
			return err
		}
		now := s.now()
		if err := tx.UpsertFile(ctx, StoredFile{
			ID:           fileID,
			OriginalName: res.Filename,
			MimeType:     res.ContentType,
			Size:         int64(len(res.Data)),
			Storage:      s.blobs.Name(),
			CreatedBy:    f.owner,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		s.markReady(&r, fileID, f.owner)
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		if err := tx.UpdateExportJob(ctx, f.jobID, f.owner, now); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		released := errors.Is(err, ErrNotFound)
		if released || fresh {
			if _, derr := s.blobs.Delete(context.WithoutCancel(ctx), fileID); derr != nil {
				log.Warn("remove orphaned export blob failed", "file_id", fileID, "error", derr)
			}
		}
		if released {
			log.Info("reservation released before export was stored")
			return nil
		}
		return fmt.Errorf("store export: %w", err)
	}

	e := f.event(events.ExportReady)
	e.FileID = fileID
	s.publish(ctx, e)
	s.metrics.Reservation(metrics.ReservationReady)
	log.Info("export ready",
		"file_id", fileID,
		"submissions", len(in.subs),
		"bytes", len(res.Data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// recordFailure marks the reservation failed after a background export
// could not complete. It runs after the task context has ended.
func (s *Service) recordFailure(ctx context.Context, f fulfillment, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureTimeout)
	defer cancel()

	log := logging.WithFields(ctx, "reservation_id", f.reservationID, "form_id", f.form.ID)
	log.Error("export failed", "error", cause)

	if _, err := s.Fail(ctx, f.reservationID, cause, f.owner); err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Error("record export failure", "error", err)
		}
		return
	}

	e := f.event(events.ExportFailed)
	e.Error = MapError(cause).Message
	s.publish(ctx, e)
}
