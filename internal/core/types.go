package core

import (
	"encoding/json"
	"time"
)

// Form is the subset of a form definition needed for export.
type Form struct {
	ID   string
	Name string

	// EnableStatusUpdates adds status, assignee and assigneeEmail to the
	// exported metadata.
	EnableStatusUpdates bool
}

// FormVersion is one published version of a form and its component schema.
type FormVersion struct {
	ID      string
	FormID  string
	Version int
	Schema  json.RawMessage
}

// SubmissionRecord is one stored submission with its metadata projection.
// Nullable metadata is nil when the column is NULL.
type SubmissionRecord struct {
	ID             string
	FormID         string
	FormVersionID  string
	Version        int
	ConfirmationID string
	FormName       string
	CreatedAt      time.Time
	CreatedBy      string
	FullName       *string
	Username       *string
	Email          *string
	Status         *string
	Assignee       *string
	AssigneeEmail  *string
	Draft          bool
	Deleted        bool
	Data           json.RawMessage
}

// SubmissionFilter narrows a submission query. Deleted and Drafts each
// select exactly one partition: soft-deleted rows are returned only when
// Deleted is set, draft rows only when Drafts is set.
type SubmissionFilter struct {
	Version *int
	MinDate *time.Time // inclusive
	MaxDate *time.Time // exclusive
	Deleted bool
	Drafts  bool
}

// ReservationStatus tracks where a reservation is in its lifecycle.
type ReservationStatus string

const (
	ReservationPending ReservationStatus = "pending"
	ReservationReady   ReservationStatus = "ready"
	ReservationFailed  ReservationStatus = "failed"
)

// Reservation is a placeholder for an export artifact. It becomes ready
// once the artifact has been stored and FileID points at it.
type Reservation struct {
	ID        string            `json:"id"`
	FileID    *string           `json:"fileId"`
	Ready     bool              `json:"ready"`
	Status    ReservationStatus `json:"status"`
	Error     *string           `json:"error,omitempty"`
	CreatedBy string            `json:"createdBy"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedBy *string           `json:"updatedBy,omitempty"`
	UpdatedAt *time.Time        `json:"updatedAt,omitempty"`
}

// ReservationFilter narrows ListReservations. Zero fields match everything.
type ReservationFilter struct {
	FileID    *string
	Ready     *bool
	Status    ReservationStatus
	CreatedBy string

	// OlderThan matches reservations created before the given time.
	OlderThan *time.Time

	// IdleSince matches reservations whose last change (update, or
	// creation if never updated) happened before the given time.
	IdleSince *time.Time
}

// ExportJob links a (form, form version) export to its reservation.
type ExportJob struct {
	ID            string
	FormID        string
	FormVersionID string
	ReservationID string
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedBy     *string
	UpdatedAt     *time.Time
}

// StoredFile is the metadata row for an artifact in the blob store.
type StoredFile struct {
	ID           string
	OriginalName string
	MimeType     string
	Size         int64
	Storage      string
	CreatedBy    string
	CreatedAt    time.Time
}
