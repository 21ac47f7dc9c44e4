package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// HealthChecker manages liveness, readiness and degradation state.
//
// The service becomes ready after the first successful reconciliation.
// Degradation is keyed by reason (e.g. "divergence:0xabc...") so that
// independent conditions can be raised and cleared separately.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time

	mu       sync.RWMutex
	degraded map[string]string
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		degraded:  make(map[string]string),
	}
}

// SetReady marks the service as ready to serve.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the service is ready.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// SetDegraded raises a degradation signal under key with a human-readable detail.
func (h *HealthChecker) SetDegraded(key, detail string) {
	h.mu.Lock()
	h.degraded[key] = detail
	h.mu.Unlock()
}

// ClearDegraded clears the signal under key. Clearing an absent key is a no-op.
func (h *HealthChecker) ClearDegraded(key string) {
	h.mu.Lock()
	delete(h.degraded, key)
	h.mu.Unlock()
}

// Degraded returns the active degradation details sorted by key.
func (h *HealthChecker) Degraded() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	keys := make([]string, 0, len(h.degraded))
	for k := range h.degraded {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = h.degraded[k]
	}
	return out
}

// LivenessHandler returns HTTP 200 while the process is alive.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 when ready and not degraded, 503 otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
		})
		return
	}
	if reasons := h.Degraded(); len(reasons) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "degraded",
			"reasons": reasons,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
