package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/totebags/api/internal/domain"
	"github.com/totebags/api/internal/repositories"
)

type fakeProbes struct {
	report domain.SystemHealthReport
	err    error
}

func (f fakeProbes) Collect(context.Context) (domain.SystemHealthReport, error) {
	return f.report, f.err
}

var _ repositories.HealthRepository = fakeProbes{}

func probeResults(statuses ...string) map[string]domain.SystemHealthCheck {
	out := make(map[string]domain.SystemHealthCheck, len(statuses))
	for i, status := range statuses {
		out[string(rune('a'+i))] = domain.SystemHealthCheck{Status: status}
	}
	return out
}

func TestSystemServiceStampsBuildInfo(t *testing.T) {
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := started.Add(5 * time.Minute)

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: fakeProbes{report: domain.SystemHealthReport{Checks: probeResults(domain.HealthStatusOK)}},
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "1.4.0", Environment: "prod", StartedAt: started},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	switch {
	case report.Status != domain.HealthStatusOK:
		t.Fatalf("expected ok, got %s", report.Status)
	case report.Version != "1.4.0" || report.Environment != "prod":
		t.Fatalf("expected build metadata, got %+v", report)
	case report.Uptime != 5*time.Minute:
		t.Fatalf("expected 5m uptime, got %s", report.Uptime)
	case !report.GeneratedAt.Equal(now):
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
}

func TestSystemServiceKeepsRepositoryValues(t *testing.T) {
	generated := time.Date(2026, 2, 2, 8, 0, 0, 0, time.FixedZone("COT", -5*3600))
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: fakeProbes{report: domain.SystemHealthReport{
			Status:      domain.HealthStatusDegraded,
			Version:     "repo-version",
			GeneratedAt: generated,
			Uptime:      time.Hour,
		}},
		Build: BuildInfo{Version: "build-version"},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded || report.Version != "repo-version" || report.Uptime != time.Hour {
		t.Fatalf("expected repository values to win, got %+v", report)
	}
	if report.GeneratedAt.Location() != time.UTC || !report.GeneratedAt.Equal(generated) {
		t.Fatalf("expected generatedAt normalised to UTC, got %s", report.GeneratedAt)
	}
}

func TestSystemServiceFoldsCheckStatuses(t *testing.T) {
	cases := map[string]struct {
		checks map[string]domain.SystemHealthCheck
		want   string
	}{
		"no checks":      {want: domain.HealthStatusOK},
		"all ok":         {checks: probeResults(domain.HealthStatusOK, ""), want: domain.HealthStatusOK},
		"degraded":       {checks: probeResults(domain.HealthStatusDegraded, domain.HealthStatusOK), want: domain.HealthStatusDegraded},
		"unknown status": {checks: probeResults("flapping"), want: domain.HealthStatusDegraded},
		"error wins":     {checks: probeResults(domain.HealthStatusDegraded, domain.HealthStatusError), want: domain.HealthStatusError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{HealthRepository: fakeProbes{report: domain.SystemHealthReport{Checks: tc.checks}}})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, report.Status)
			}
			if report.Checks == nil {
				t.Fatalf("expected non-nil checks map")
			}
		})
	}
}

func TestSystemServiceErrors(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error when repository missing")
	}

	boom := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: fakeProbes{err: boom}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
}
