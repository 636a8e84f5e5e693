// Package apihealth implements the health probe consumed at the edge:
// GET /health returns 200 with {status, redis, postgres} when both
// dependencies answer a ping, else 503.
package apihealth

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger is the narrow capability each dependency needs to expose.
type Pinger interface {
	Ping(ctx context.Context) error
}

// redisPinger adapts go-redis's Ping, which returns a *StatusCmd rather
// than a bare error.
type redisPinger interface {
	Ping(ctx context.Context) interface {
		Err() error
	}
}

// Handler builds the /health endpoint from a Postgres pool and Redis
// client. Either may be nil in a degraded deployment, in which case its
// field reports "not configured" and does not fail the probe on its own.
func Handler(pool Pinger, redis redisPinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		resp := struct {
			Status   string `json:"status"`
			Redis    string `json:"redis"`
			Postgres string `json:"postgres"`
		}{Status: "ok", Redis: "not configured", Postgres: "not configured"}

		healthy := true

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				resp.Postgres = "unhealthy: " + err.Error()
				healthy = false
			} else {
				resp.Postgres = "ok"
			}
		}

		if redis != nil {
			if err := redis.Ping(ctx).Err(); err != nil {
				resp.Redis = "unhealthy: " + err.Error()
				healthy = false
			} else {
				resp.Redis = "ok"
			}
		}

		if !healthy {
			resp.Status = "unhealthy"
		}

		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
