package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	domain "github.com/totebags/api/internal/domain"
	"github.com/totebags/api/internal/repositories"
)

// BuildInfo is stamped onto every health report.
type BuildInfo struct {
	Version     string
	Environment string
	StartedAt   time.Time
}

type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type healthReporter struct {
	checks repositories.HealthRepository
	now    func() time.Time
	build  BuildInfo
}

var _ SystemService = (*healthReporter)(nil)

// NewSystemService returns the reporter behind GET /health. A zero
// Build.StartedAt is taken to be construction time.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	r := &healthReporter{
		checks: deps.HealthRepository,
		now:    func() time.Time { return clock().UTC() },
		build:  deps.Build,
	}
	if r.build.StartedAt.IsZero() {
		r.build.StartedAt = r.now()
	}
	return r, nil
}

func (r *healthReporter) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}
	ctx, span := tracer.Start(ctx, "system.health")
	defer span.End()

	report, err := r.checks.Collect(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "collect failed")
		return SystemHealthReport{}, err
	}

	now := r.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	} else {
		report.GeneratedAt = report.GeneratedAt.UTC()
	}
	if strings.TrimSpace(report.Version) == "" {
		report.Version = r.build.Version
	}
	if strings.TrimSpace(report.Environment) == "" {
		report.Environment = r.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(r.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = worstStatus(report.Checks)
	}

	span.SetAttributes(
		attribute.String("health.status", report.Status),
		attribute.Int("health.checks", len(report.Checks)),
	)
	return report, nil
}

var statusSeverity = map[string]int{
	"":                       0,
	domain.HealthStatusOK:    0,
	domain.HealthStatusError: 2,
}

// worstStatus folds individual checks into one status. Unknown check states
// count as degraded.
func worstStatus(checks map[string]domain.SystemHealthCheck) string {
	worst := 0
	for _, check := range checks {
		severity, known := statusSeverity[check.Status]
		if !known {
			severity = 1
		}
		if severity > worst {
			worst = severity
		}
	}
	switch worst {
	case 2:
		return domain.HealthStatusError
	case 1:
		return domain.HealthStatusDegraded
	default:
		return domain.HealthStatusOK
	}
}
