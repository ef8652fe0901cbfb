package handler

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courtside/scorekeeper/internal/infra"
)

// HealthHandler reports device liveness and remote store reachability.
// The device is healthy even when offline; "remote" is informational.
func HealthHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remote := "unreachable"
		if pool != nil {
			if err := infra.HealthCheck(r.Context(), pool); err == nil {
				remote = "ok"
			}
		}
		RespondJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"remote": remote,
		})
	}
}
