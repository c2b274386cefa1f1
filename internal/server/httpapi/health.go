package httpapi

import (
	"context"
	"net/http"
	"sort"
	"time"
)

const checkTimeout = 2 * time.Second

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Ingest any               `json:"ingest,omitempty"`
}

func (h *Handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready runs every check and reports whether all passed, with a result
// per check.
func (h *Handlers) Ready(ctx context.Context) (bool, map[string]string) {
	names := make([]string, 0, len(h.opts.Checks))
	for name := range h.opts.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ok := true
	results := make(map[string]string, len(names))
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := h.opts.Checks[name](cctx)
		cancel()
		if err != nil {
			ok = false
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	return ok, results
}

func (h *Handlers) readyz(w http.ResponseWriter, r *http.Request) {
	ok, results := h.Ready(r.Context())
	resp := readyResponse{Status: "ready", Checks: results}
	if h.opts.Status != nil {
		resp.Ingest = h.opts.Status()
	}
	status := http.StatusOK
	if !ok {
		resp.Status = "not ready"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
