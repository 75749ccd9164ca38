package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/virtualcc/backoffice/internal/backoffice/httputil"
	"github.com/virtualcc/backoffice/internal/logging"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

const pingTimeout = 2 * time.Second

type healthResponse struct {
	Uptime    float64   `json:"uptime"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HandleHealthz returns the liveness handler. It answers 503 when db is set
// and unreachable.
func HandleHealthz(started time.Time, db Pinger) http.HandlerFunc {
	return healthHandler(started, db, "OK")
}

// HandleReadyz returns the readiness handler. A nil db is never ready.
func HandleReadyz(started time.Time, db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			writeHealth(w, http.StatusServiceUnavailable, started, "Not ready")
			return
		}
		healthHandler(started, db, "Ready")(w, r)
	}
}

func healthHandler(started time.Time, db Pinger, okMessage string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
			err := db.Ping(ctx)
			cancel()
			if err != nil {
				logging.FromContext(r.Context()).Error().Err(err).Msg("Database health check failed")
				writeHealth(w, http.StatusServiceUnavailable, started, "Database unavailable")
				return
			}
		}
		writeHealth(w, http.StatusOK, started, okMessage)
	}
}

func writeHealth(w http.ResponseWriter, status int, started time.Time, msg string) {
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, status, healthResponse{
		Uptime:    time.Since(started).Seconds(),
		Message:   msg,
		Timestamp: time.Now().UTC(),
	})
}
