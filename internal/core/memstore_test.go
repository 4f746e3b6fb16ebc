package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store. Transactions are serialized and roll
// back to a snapshot when fn fails.
type memStore struct {
	db *memDB
	tx bool
}

type memDB struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data memData

	// raceJob, when set, makes the next InsertExportJob fail with
	// ErrConflict and commits the racing writer's rows after rollback.
	raceJob     func(d *memData)
	pendingRace func(d *memData)

	// deleteReservationErr, when set, is returned by DeleteReservation.
	deleteReservationErr error
}

type memData struct {
	forms        map[string]Form
	versions     []FormVersion
	subs         []SubmissionRecord
	reservations map[string]Reservation
	jobs         []ExportJob
	files        map[string]StoredFile
}

func newMemStore() *memStore {
	return &memStore{db: &memDB{data: memData{
		forms:        map[string]Form{},
		reservations: map[string]Reservation{},
		files:        map[string]StoredFile{},
	}}}
}

func (d memData) clone() memData {
	c := memData{
		forms:        make(map[string]Form, len(d.forms)),
		versions:     append([]FormVersion(nil), d.versions...),
		subs:         append([]SubmissionRecord(nil), d.subs...),
		reservations: make(map[string]Reservation, len(d.reservations)),
		jobs:         append([]ExportJob(nil), d.jobs...),
		files:        make(map[string]StoredFile, len(d.files)),
	}
	for k, v := range d.forms {
		c.forms[k] = v
	}
	for k, v := range d.reservations {
		c.reservations[k] = v
	}
	for k, v := range d.files {
		c.files[k] = v
	}
	return c
}

func (s *memStore) lock() func() {
	s.db.mu.Lock()
	return s.db.mu.Unlock
}

func (s *memStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.tx {
		return fn(s)
	}
	s.db.txMu.Lock()
	defer s.db.txMu.Unlock()

	s.db.mu.Lock()
	snapshot := s.db.data.clone()
	s.db.mu.Unlock()

	if err := fn(&memStore{db: s.db, tx: true}); err != nil {
		s.db.mu.Lock()
		s.db.data = snapshot
		if race := s.db.pendingRace; race != nil {
			s.db.pendingRace = nil
			race(&s.db.data)
		}
		s.db.mu.Unlock()
		return err
	}
	return nil
}

// Seeding helpers.

func (s *memStore) addForm(f Form, versions ...FormVersion) {
	defer s.lock()()
	s.db.data.forms[f.ID] = f
	s.db.data.versions = append(s.db.data.versions, versions...)
}

func (s *memStore) addSubmissions(subs ...SubmissionRecord) {
	defer s.lock()()
	s.db.data.subs = append(s.db.data.subs, subs...)
}

func (s *memStore) jobCount() int {
	defer s.lock()()
	return len(s.db.data.jobs)
}

func (s *memStore) fileCount() int {
	defer s.lock()()
	return len(s.db.data.files)
}

func (s *memStore) failDeleteReservation(err error) {
	defer s.lock()()
	s.db.deleteReservationErr = err
}

// SubmissionSource

func (s *memStore) FindForm(ctx context.Context, formID string) (Form, error) {
	defer s.lock()()
	f, ok := s.db.data.forms[formID]
	if !ok {
		return Form{}, fmt.Errorf("form %s: %w", formID, ErrNotFound)
	}
	return f, nil
}

func (s *memStore) FindFormVersion(ctx context.Context, formID string, version int) (FormVersion, error) {
	defer s.lock()()
	for _, v := range s.db.data.versions {
		if v.FormID == formID && v.Version == version {
			return v, nil
		}
	}
	return FormVersion{}, fmt.Errorf("form %s version %d: %w", formID, version, ErrNotFound)
}

func (s *memStore) LatestFormVersion(ctx context.Context, formID string) (FormVersion, error) {
	defer s.lock()()
	var (
		latest FormVersion
		found  bool
	)
	for _, v := range s.db.data.versions {
		if v.FormID == formID && (!found || v.Version > latest.Version) {
			latest, found = v, true
		}
	}
	if !found {
		return FormVersion{}, fmt.Errorf("form %s latest version: %w", formID, ErrNotFound)
	}
	return latest, nil
}

func (s *memStore) QuerySubmissions(ctx context.Context, formID string, filter SubmissionFilter) ([]SubmissionRecord, error) {
	defer s.lock()()
	var out []SubmissionRecord
	for _, r := range s.db.data.subs {
		switch {
		case r.FormID != formID,
			filter.Version != nil && r.Version != *filter.Version,
			filter.MinDate != nil && r.CreatedAt.Before(*filter.MinDate),
			filter.MaxDate != nil && !r.CreatedAt.Before(*filter.MaxDate),
			r.Deleted != filter.Deleted,
			r.Draft != filter.Drafts:
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ReservationStore

func (s *memStore) InsertReservation(ctx context.Context, r Reservation) error {
	defer s.lock()()
	if _, ok := s.db.data.reservations[r.ID]; ok {
		return fmt.Errorf("reservation %s: %w", r.ID, ErrConflict)
	}
	s.db.data.reservations[r.ID] = r
	return nil
}

func (s *memStore) GetReservation(ctx context.Context, id string, forUpdate bool) (Reservation, error) {
	defer s.lock()()
	r, ok := s.db.data.reservations[id]
	if !ok {
		return Reservation{}, fmt.Errorf("reservation %s: %w", id, ErrNotFound)
	}
	return r, nil
}

func (s *memStore) UpdateReservation(ctx context.Context, r Reservation) error {
	defer s.lock()()
	if _, ok := s.db.data.reservations[r.ID]; !ok {
		return fmt.Errorf("reservation %s: %w", r.ID, ErrNotFound)
	}
	s.db.data.reservations[r.ID] = r
	return nil
}

func (s *memStore) DeleteReservation(ctx context.Context, id string) error {
	defer s.lock()()
	if err := s.db.deleteReservationErr; err != nil {
		return err
	}
	if _, ok := s.db.data.reservations[id]; !ok {
		return fmt.Errorf("reservation %s: %w", id, ErrNotFound)
	}
	delete(s.db.data.reservations, id)
	return nil
}

func (s *memStore) ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error) {
	defer s.lock()()
	var out []Reservation
	for _, r := range s.db.data.reservations {
		idle := r.CreatedAt
		if r.UpdatedAt != nil {
			idle = *r.UpdatedAt
		}
		switch {
		case filter.FileID != nil && (r.FileID == nil || *r.FileID != *filter.FileID),
			filter.Ready != nil && r.Ready != *filter.Ready,
			filter.Status != "" && r.Status != filter.Status,
			filter.CreatedBy != "" && r.CreatedBy != filter.CreatedBy,
			filter.OlderThan != nil && !r.CreatedAt.Before(*filter.OlderThan),
			filter.IdleSince != nil && !idle.Before(*filter.IdleSince):
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// ExportJobStore

func (s *memStore) LockExportKey(ctx context.Context, formID, formVersionID string) error {
	return nil
}

func (s *memStore) ListExportJobs(ctx context.Context, formID, formVersionID string) ([]ExportJob, error) {
	defer s.lock()()
	var out []ExportJob
	for _, j := range s.db.data.jobs {
		if j.FormID == formID && j.FormVersionID == formVersionID {
			out = append(out, j)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) InsertExportJob(ctx context.Context, j ExportJob) error {
	defer s.lock()()
	if race := s.db.raceJob; race != nil {
		s.db.raceJob = nil
		s.db.pendingRace = race
		return fmt.Errorf("export job: %w", ErrConflict)
	}
	for _, existing := range s.db.data.jobs {
		if existing.FormID == j.FormID && existing.FormVersionID == j.FormVersionID {
			return fmt.Errorf("export job: %w", ErrConflict)
		}
	}
	s.db.data.jobs = append(s.db.data.jobs, j)
	return nil
}

func (s *memStore) UpdateExportJob(ctx context.Context, id, updatedBy string, at time.Time) error {
	defer s.lock()()
	for i := range s.db.data.jobs {
		if s.db.data.jobs[i].ID == id {
			s.db.data.jobs[i].UpdatedBy = &updatedBy
			s.db.data.jobs[i].UpdatedAt = &at
			return nil
		}
	}
	return fmt.Errorf("export job %s: %w", id, ErrNotFound)
}

func (s *memStore) DeleteExportJobsByReservation(ctx context.Context, reservationID string) (int64, error) {
	defer s.lock()()
	kept := s.db.data.jobs[:0:0]
	for _, j := range s.db.data.jobs {
		if j.ReservationID != reservationID {
			kept = append(kept, j)
		}
	}
	n := int64(len(s.db.data.jobs) - len(kept))
	s.db.data.jobs = kept
	return n, nil
}

// FileStore

func (s *memStore) GetFile(ctx context.Context, id string) (StoredFile, error) {
	defer s.lock()()
	f, ok := s.db.data.files[id]
	if !ok {
		return StoredFile{}, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return f, nil
}

func (s *memStore) UpsertFile(ctx context.Context, f StoredFile) error {
	defer s.lock()()
	s.db.data.files[f.ID] = f
	return nil
}

func (s *memStore) DeleteFile(ctx context.Context, id string) error {
	defer s.lock()()
	if _, ok := s.db.data.files[id]; !ok {
		return fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	delete(s.db.data.files, id)
	return nil
}
