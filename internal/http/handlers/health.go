package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"tryon/internal/domain"
	"tryon/internal/middleware"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

type providerStatus struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

// Status reports configuration and live reachability of every provider.
func (a *App) Status(w http.ResponseWriter, r *http.Request) {
	statuses := make([]providerStatus, len(a.Providers))
	var wg sync.WaitGroup
	for i, p := range a.Providers {
		wg.Add(1)
		go func(i int, p ProviderProbe) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), a.PingTimeout)
			defer cancel()
			st := providerStatus{Name: p.Name(), Role: string(p.Role()), Reachable: true}
			if err := p.Ping(ctx); err != nil {
				st.Reachable = false
				st.Error = err.Error()
			}
			statuses[i] = st
		}(i, p)
	}
	wg.Wait()

	healthy := len(statuses) > 0
	for _, st := range statuses {
		if st.Role == string(domain.RolePrimary) && !st.Reachable {
			healthy = false
		}
	}
	state := "ok"
	if !healthy {
		state = "degraded"
	}
	a.json(w, http.StatusOK, map[string]any{
		"status":    state,
		"version":   a.Version,
		"providers": statuses,
		"limits":    a.Limits,
		"polling": map[string]any{
			"interval_seconds": a.Limits.PollInterval.Seconds(),
			"timeout_seconds":  a.Limits.PollTimeout.Seconds(),
			"max_attempts":     a.Limits.MaxAttempts,
		},
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

// TestAuth answers only when basic auth succeeded.
func (a *App) TestAuth(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    middleware.UserFromContext(r.Context()),
	})
}
