package core

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/formexport/internal/blob"
	"github.com/JonMunkholm/formexport/internal/events"
	"github.com/JonMunkholm/formexport/internal/export"
	"github.com/JonMunkholm/formexport/internal/logging"
	"github.com/JonMunkholm/formexport/internal/metrics"
)

// failureTimeout bounds recording a failed fulfillment after the task's own
// context has ended.
const failureTimeout = 15 * time.Second

// Service is the entry point for exports and reservations.
type Service struct {
	store   Store
	blobs   blob.Store
	events  events.Publisher
	metrics *metrics.Metrics
	worker  *Worker

	now   func() time.Time
	newID func() string
}

// Option configures a Service.
type Option func(*Service)

// WithEvents sets the lifecycle event publisher. The default logs events.
func WithEvents(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithMetrics sets the metrics sink. The default records nothing.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithWorker sets the background worker used for reservation exports.
func WithWorker(w *Worker) Option {
	return func(s *Service) { s.worker = w }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDs replaces the UUID generator used for reservations, ledger rows
// and file ids.
func WithIDs(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// NewService wires a Service over store and blobs.
func NewService(store Store, blobs blob.Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		blobs: blobs,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.events == nil {
		s.events = events.NewLog(nil)
	}
	if s.worker == nil {
		s.worker = NewWorker(nil, DefaultExportTimeout)
	}
	return s
}

// Worker returns the background worker, for draining on shutdown.
func (s *Service) Worker() *Worker {
	return s.worker
}

// Export produces an export synchronously.
func (s *Service) Export(ctx context.Context, formID string, req export.Request) (*export.Result, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	in, err := s.load(ctx, s.store, formID, req)
	if err != nil {
		return nil, err
	}
	res, err := export.Render(in.form, in.fields, in.subs, req)
	s.observe(metrics.ModeDirect, req, start, res, err)
	if err != nil {
		return nil, err
	}

	logging.WithFields(ctx, "form_id", formID).Info("export produced",
		"format", req.Format,
		"template", req.Template,
		"submissions", len(in.subs),
		"bytes", len(res.Data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// ExportFields returns the CSV header row an export with req would have.
func (s *Service) ExportFields(ctx context.Context, formID string, req export.Request) ([]string, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	in, err := s.load(ctx, s.store, formID, req)
	if err != nil {
		return nil, err
	}
	return export.Headers(in.fields, in.subs, req)
}

func (s *Service) observe(mode string, req export.Request, start time.Time, res *export.Result, err error) {
	size := 0
	if res != nil {
		size = len(res.Data)
	}
	s.metrics.ObserveExport(mode, string(req.Format), string(req.Template), time.Since(start), size, err)
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	e.At = s.now()
	if err := s.events.Publish(ctx, e); err != nil {
		logging.FromContext(ctx).Warn("publish export event failed",
			"type", e.Type,
			"reservation_id", e.ReservationID,
			"error", err,
		)
	}
}
