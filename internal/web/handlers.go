package web

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/formexport/internal/core"
	"github.com/JonMunkholm/formexport/internal/export"
	"github.com/JonMunkholm/formexport/internal/logging"
)

// handleExport streams a direct export described by query parameters.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	req, err := export.ParseParams(r.URL.Query())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeExport(w, r, req)
}

// handleExportBody is handleExport for clients that send the column list in
// a JSON body.
func (s *Server) handleExportBody(w http.ResponseWriter, r *http.Request) {
	req, err := export.ParseBody(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeExport(w, r, req)
}

func (s *Server) writeExport(w http.ResponseWriter, r *http.Request, req export.Request) {
	res, err := s.service.Export(r.Context(), chi.URLParam(r, "formId"), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", res.ContentDisposition())
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Data); err != nil {
		logging.FromContext(r.Context()).Warn("write export response", "error", err)
	}
}

// handleExportFields returns the CSV header row as a JSON array.
func (s *Server) handleExportFields(w http.ResponseWriter, r *http.Request) {
	req, err := export.ParseParams(r.URL.Query())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	fields, err := s.service.ExportFields(r.Context(), chi.URLParam(r, "formId"), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if fields == nil {
		fields = []string{}
	}
	writeJSON(w, http.StatusOK, fields)
}

// handleExportWithReservation queues a background export and answers 202
// with the reservation to poll.
func (s *Server) handleExportWithReservation(w http.ResponseWriter, r *http.Request) {
	owner := core.OwnerFromContext(r.Context())
	if owner == "" {
		s.respondError(w, r, errMissingOwner)
		return
	}

	req, err := export.ParseBody(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := s.service.ExportWithReservation(r.Context(), chi.URLParam(r, "formId"), req, owner)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/reservations/"+res.ID)
	if isHTMX(r) {
		renderFragment(w, r, http.StatusAccepted, reservationStatus(res))
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleListReservations(w http.ResponseWriter, r *http.Request) {
	filter, err := parseReservationFilter(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	rs, err := s.service.ListReservations(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if rs == nil {
		rs = []core.Reservation{}
	}
	writeJSON(w, http.StatusOK, rs)
}

func parseReservationFilter(r *http.Request) (core.ReservationFilter, error) {
	q := r.URL.Query()
	filter := core.ReservationFilter{
		CreatedBy: q.Get("createdBy"),
	}
	if v := q.Get("fileId"); v != "" {
		filter.FileID = &v
	}
	if v := q.Get("ready"); v != "" {
		ready, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("%w: ready must be true or false", core.ErrInvalidRequest)
		}
		filter.Ready = &ready
	}
	if v := q.Get("status"); v != "" {
		switch st := core.ReservationStatus(strings.ToLower(v)); st {
		case core.ReservationPending, core.ReservationReady, core.ReservationFailed:
			filter.Status = st
		default:
			return filter, fmt.Errorf("%w: unknown status %q", core.ErrInvalidRequest, v)
		}
	}
	return filter, nil
}

func (s *Server) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.ReadReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if isHTMX(r) {
		renderFragment(w, r, http.StatusOK, reservationStatus(res))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleDownload streams the stored artifact of a ready reservation.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	rc, file, err := s.service.OpenArtifact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", file.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.OriginalName))
	if file.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logging.FromContext(r.Context()).Warn("stream export artifact", "file_id", file.ID, "error", err)
	}
}

func (s *Server) handleReleaseReservation(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ReleaseReservation(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
