package handlers

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/totebags/api/internal/domain"
	"github.com/totebags/api/internal/platform/httpx"
	"github.com/totebags/api/internal/platform/requestctx"
	"github.com/totebags/api/internal/services"
)

const defaultReadyTimeout = 3 * time.Second

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	system       services.SystemService
	build        services.BuildInfo
	clock        func() time.Time
	readyTimeout time.Duration
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService sets the service that probes dependencies for /readyz.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
	}
}

// WithHealthBuildInfo sets the build metadata reported by /healthz.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock, primarily for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthReadyTimeout bounds how long /readyz waits on dependency probes.
func WithHealthReadyTimeout(timeout time.Duration) HealthOption {
	return func(h *HealthHandlers) {
		if timeout > 0 {
			h.readyTimeout = timeout
		}
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock:        time.Now,
		readyTimeout: defaultReadyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type healthPayload struct {
	Status      string                        `json:"status"`
	Version     string                        `json:"version,omitempty"`
	Environment string                        `json:"environment,omitempty"`
	Uptime      string                        `json:"uptime"`
	Timestamp   string                        `json:"timestamp"`
	Checks      map[string]healthCheckPayload `json:"checks,omitempty"`
	Details     []string                      `json:"details,omitempty"`
}

type healthCheckPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
	CheckedAt string `json:"checkedAt,omitempty"`
}

// Healthz reports process liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	httpx.WriteData(w, http.StatusOK, healthPayload{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		Timestamp:   formatTime(now),
	}, nil)
}

// Readyz probes dependencies and answers 503 unless every check is ok.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		h.Healthz(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.readyTimeout)
	defer cancel()

	report, err := h.system.HealthReport(ctx)
	if err != nil {
		requestctx.Logger(r.Context()).Error("readiness probe failed", zap.Error(err))
		httpx.WriteError(r.Context(), w, httpx.NewError("not_ready", "dependency health unavailable", http.StatusServiceUnavailable))
		return
	}

	payload := healthPayload{
		Status:      report.Status,
		Version:     report.Version,
		Environment: report.Environment,
		Uptime:      report.Uptime.Round(time.Second).String(),
		Timestamp:   formatTime(report.GeneratedAt),
		Checks:      make(map[string]healthCheckPayload, len(report.Checks)),
	}
	for name, check := range report.Checks {
		payload.Checks[name] = healthCheckPayload{
			Status:    check.Status,
			Detail:    check.Detail,
			LatencyMS: check.Latency.Milliseconds(),
			CheckedAt: formatTime(check.CheckedAt),
		}
		if check.Status != domain.HealthStatusOK && strings.TrimSpace(check.Detail) != "" {
			payload.Details = append(payload.Details, name+": "+check.Detail)
		}
	}
	sort.Strings(payload.Details)

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteData(w, status, payload, nil)
}
