package repositories

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/totebags/api/internal/domain"
)

const defaultDependencyTimeout = 1500 * time.Millisecond

// DependencyCheck is one readiness probe, e.g. a Postgres ping or a Pub/Sub
// topic lookup. A zero Timeout uses the repository default.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

type DependencyHealthOption func(*probeSet)

func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(p *probeSet) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(p *probeSet) {
		if clock != nil {
			p.now = clock
		}
	}
}

// probeSet runs every dependency check in parallel on each Collect.
type probeSet struct {
	checks  []DependencyCheck
	timeout time.Duration
	now     func() time.Time
}

var _ HealthRepository = (*probeSet)(nil)

func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	for _, check := range checks {
		if strings.TrimSpace(check.Name) == "" || check.Check == nil {
			return nil, errors.New("health repository: dependency check requires name and function")
		}
	}
	p := &probeSet{
		checks:  append([]DependencyCheck(nil), checks...),
		timeout: defaultDependencyTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Collect never fails because of a dependency: failures are reported per
// check. An error means ctx itself was unusable.
func (p *probeSet) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if ctx == nil {
		return domain.SystemHealthReport{}, errors.New("health repository: context is required")
	}

	outcomes := make([]domain.SystemHealthCheck, len(p.checks))
	var g errgroup.Group
	for i, check := range p.checks {
		g.Go(func() error {
			outcomes[i] = p.run(ctx, check)
			return nil
		})
	}
	_ = g.Wait()

	report := domain.SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Checks:      make(map[string]domain.SystemHealthCheck, len(outcomes)),
		GeneratedAt: p.now(),
	}
	for i, outcome := range outcomes {
		report.Checks[p.checks[i].Name] = outcome
		switch {
		case outcome.Status == domain.HealthStatusError:
			report.Status = domain.HealthStatusError
		case outcome.Status == domain.HealthStatusDegraded && report.Status == domain.HealthStatusOK:
			report.Status = domain.HealthStatusDegraded
		}
	}
	return report, nil
}

// run classifies a probe: plain errors degrade, while timeouts and
// cancellations count as errors.
func (p *probeSet) run(ctx context.Context, check DependencyCheck) domain.SystemHealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := p.now()
	err := check.Check(probeCtx)
	finished := p.now()

	outcome := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   finished.Sub(started),
		CheckedAt: finished,
	}
	ctxErr := probeCtx.Err()
	switch {
	case err == nil && ctxErr == nil:
		return outcome
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctxErr, context.DeadlineExceeded):
		outcome.Status, outcome.Detail = domain.HealthStatusError, "timeout"
	case errors.Is(err, context.Canceled) || ctxErr != nil:
		outcome.Status, outcome.Detail = domain.HealthStatusError, "cancelled"
	default:
		outcome.Status, outcome.Detail = domain.HealthStatusDegraded, err.Error()
	}
	return outcome
}
