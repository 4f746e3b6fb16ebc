package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/JonMunkholm/formexport/internal/export"
	"github.com/JonMunkholm/formexport/internal/formschema"
)

// createdAtLayout renders timestamps the way browsers serialize dates.
const createdAtLayout = "2006-01-02T15:04:05.000Z07:00"

// exportInput is everything the formatter needs for one export.
type exportInput struct {
	form    export.Form
	version FormVersion
	fields  []string
	subs    []export.Submission
}

// load reads the form, the schema of the requested (or latest) version and
// the matching submissions.
func (s *Service) load(ctx context.Context, src SubmissionSource, formID string, req export.Request) (exportInput, error) {
	form, err := src.FindForm(ctx, formID)
	if err != nil {
		return exportInput{}, err
	}
	version, err := resolveVersion(ctx, src, formID, req.Version)
	if err != nil {
		return exportInput{}, err
	}
	return s.loadVersion(ctx, src, form, version, req)
}

func (s *Service) loadVersion(ctx context.Context, src SubmissionSource, form Form, version FormVersion, req export.Request) (exportInput, error) {
	fields, err := formschema.FlattenSchema(version.Schema)
	if err != nil {
		return exportInput{}, &FormatError{Format: req.Format, Err: fmt.Errorf("form version %d schema: %w", version.Version, err)}
	}

	records, err := src.QuerySubmissions(ctx, form.ID, SubmissionFilter{
		Version: req.Version,
		MinDate: req.MinDate,
		MaxDate: req.MaxDate,
		Deleted: req.Deleted,
		Drafts:  req.Drafts,
	})
	if err != nil {
		return exportInput{}, fmt.Errorf("query submissions: %w", err)
	}

	subs := make([]export.Submission, 0, len(records))
	for _, rec := range records {
		sub, err := toSubmission(form, rec)
		if err != nil {
			return exportInput{}, &FormatError{Format: req.Format, Err: err}
		}
		subs = append(subs, sub)
	}

	return exportInput{
		form:    export.Form{Name: form.Name},
		version: version,
		fields:  fields,
		subs:    subs,
	}, nil
}

func resolveVersion(ctx context.Context, src SubmissionSource, formID string, version *int) (FormVersion, error) {
	if version == nil {
		return src.LatestFormVersion(ctx, formID)
	}
	return src.FindFormVersion(ctx, formID, *version)
}

func toSubmission(form Form, rec SubmissionRecord) (export.Submission, error) {
	data := export.NewObject()
	if len(rec.Data) > 0 {
		var err error
		if data, err = export.ParseObject(rec.Data); err != nil {
			return export.Submission{}, fmt.Errorf("submission %s: %w", rec.ID, err)
		}
	}
	return export.Submission{Meta: submissionMeta(form, rec), Data: data}, nil
}

// submissionMeta builds the ordered metadata exported under "form".
func submissionMeta(form Form, rec SubmissionRecord) *export.Object {
	meta := export.NewObject()
	meta.Set("confirmationId", rec.ConfirmationID)
	meta.Set("formName", rec.FormName)
	meta.Set("version", json.Number(strconv.Itoa(rec.Version)))
	meta.Set("createdAt", rec.CreatedAt.UTC().Format(createdAtLayout))
	meta.Set("fullName", nullable(rec.FullName))
	meta.Set("username", nullable(rec.Username))
	meta.Set("email", nullable(rec.Email))
	if form.EnableStatusUpdates {
		meta.Set("status", nullable(rec.Status))
		meta.Set("assignee", nullable(rec.Assignee))
		meta.Set("assigneeEmail", nullable(rec.AssigneeEmail))
	}
	return meta
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// formatTime is used for log and error output.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
