package billingapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/everkeep/everkeep/pkg/jobs"
	"github.com/everkeep/everkeep/pkg/logger"
)

// requireJobsToken authenticates the scheduler with a static bearer token.
func (a *api) requireJobsToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.JobsToken == "" {
			respondError(w, http.StatusServiceUnavailable, "job endpoints not configured")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(a.JobsToken)) != 1 {
			respondError(w, http.StatusUnauthorized, "invalid job token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleSweep triggers one sweep run and reports its counts.
func (a *api) handleSweep(sweep Sweeper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sweep == nil {
			respondError(w, http.StatusServiceUnavailable, "sweep not configured")
			return
		}
		report, err := sweep.Run(r.Context())
		if err != nil {
			if errors.Is(err, jobs.ErrSweepAlreadyRunning) {
				respondError(w, http.StatusConflict, "sweep already running")
				return
			}
			a.Log.ErrorContext(r.Context(), "sweep run failed", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "sweep failed")
			return
		}
		respondJSON(w, http.StatusOK, report)
	}
}
