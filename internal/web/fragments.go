package web

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/formexport/internal/core"
)

// pollInterval is how often a pending reservation fragment refreshes itself.
const pollInterval = "2s"

// reservationStatus renders a reservation for HTMX polling. Pending
// reservations re-fetch themselves; ready ones link to the download.
func reservationStatus(res core.Reservation) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		id := templ.EscapeString(res.ID)
		self := templ.EscapeString("/api/v1/reservations/" + res.ID)

		switch {
		case res.Status == core.ReservationPending:
			_, err := fmt.Fprintf(w,
				`<div id="reservation-%s" class="reservation pending" hx-get="%s" hx-trigger="every %s" hx-swap="outerHTML">Preparing export&hellip;</div>`,
				id, self, pollInterval)
			return err
		case res.Status == core.ReservationFailed:
			msg := "The export failed"
			if res.Error != nil {
				msg = *res.Error
			}
			_, err := fmt.Fprintf(w,
				`<div id="reservation-%s" class="reservation failed">%s</div>`,
				id, templ.EscapeString(msg))
			return err
		default:
			_, err := fmt.Fprintf(w,
				`<div id="reservation-%s" class="reservation ready"><a href="%s/download" hx-boost="false">Download export</a></div>`,
				id, self)
			return err
		}
	})
}

// errorAlert renders a user message for HTMX requests.
func errorAlert(msg core.UserMessage) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<div class="alert alert-error" role="alert"><p>%s</p><p class="action">%s</p><small>Code: %s</small></div>`,
			templ.EscapeString(msg.Message), templ.EscapeString(msg.Action), templ.EscapeString(msg.Code))
		return err
	})
}

func renderFragment(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		slog.Error("render fragment", "error", err)
	}
}
