// Package core provides the business logic for form submission exports.
//
// The package is independent of any transport: web handlers, the CLI and
// tests all drive the same [Service].
//
// # Direct Export
//
// [Service.Export] reads the form, the schema of the requested version and
// the matching submissions, then renders them synchronously through the
// export package:
//
//	res, err := svc.Export(ctx, formID, export.Request{Format: export.FormatCSV})
//	w.Header().Set("Content-Disposition", res.ContentDisposition())
//
// # Reservation Export
//
// Large exports are produced in the background. [Service.ExportWithReservation]
// returns a [Reservation] at once and a [Worker] task renders the artifact,
// stores it in the blob store and marks the reservation ready:
//
//  1. The export job ledger serializes callers per (form, version) and
//     either reuses the existing reservation or creates one
//  2. A ready or failed reservation is re-armed to pending
//  3. The worker runs at most one task per reservation
//  4. On success the artifact is uploaded under the reservation's file id
//  5. On failure the reservation records the error and status failed
//
// Clients poll [Service.ReadReservation] and download through
// [Service.OpenArtifact]. [Service.ReleaseReservation] removes the
// reservation, its ledger rows, its file metadata and its blob together.
//
// # Error Handling
//
// Errors wrap [ErrNotFound], [ErrInvalidRequest], [ErrNotReady],
// [*FormatError] or [*StorageError]. [MapError] turns them into user
// messages with support codes (EXP001-EXP008).
package core
