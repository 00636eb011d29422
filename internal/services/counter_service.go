package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/totebags/api/internal/repositories"
)

// orderNumberFormat renders TB-<year>-<sequence>.
const orderNumberFormat = "TB-%04d-%06d"

var (
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	// ErrCounterExhausted is returned once a sequence has reached its configured maximum.
	ErrCounterExhausted = errors.New("counter: exhausted")
)

type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

// sequenceService keeps sequences in the counters table and remembers which
// settings it already pushed so Configure only runs when they change.
type sequenceService struct {
	repo  repositories.CounterRepository
	clock func() time.Time

	mu     sync.Mutex
	pushed map[string]string
}

func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &sequenceService{
		repo:   deps.Repository,
		clock:  func() time.Time { return clock().UTC() },
		pushed: make(map[string]string),
	}, nil
}

func (s *sequenceService) Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error) {
	id, err := sequenceID(scope, name)
	if err != nil {
		return CounterValue{}, err
	}
	if err := s.pushSettings(ctx, id, opts); err != nil {
		return CounterValue{}, err
	}

	value, err := s.repo.Next(ctx, id, opts.Step)
	if err != nil {
		switch repositories.KindOf(err) {
		case repositories.ErrorKindInvalidInput:
			return CounterValue{}, fmt.Errorf("%w: %v", ErrCounterInvalidInput, err)
		case repositories.ErrorKindExhausted:
			return CounterValue{}, fmt.Errorf("%w: %s", ErrCounterExhausted, id)
		default:
			return CounterValue{}, err
		}
	}

	return CounterValue{Value: value, Formatted: render(s.clock(), value, opts)}, nil
}

// NextOrderNumber hands out TB-<year>-<n>; every year starts its own sequence.
func (s *sequenceService) NextOrderNumber(ctx context.Context) (string, error) {
	year := s.clock().Year()
	v, err := s.Next(ctx, "orders", strconv.Itoa(year), CounterGenerationOptions{
		Formatter: func(_ time.Time, seq int64) string {
			return fmt.Sprintf(orderNumberFormat, year, seq)
		},
	})
	if err != nil {
		return "", err
	}
	return v.Formatted, nil
}

func sequenceID(scope, name string) (string, error) {
	scope, name = strings.TrimSpace(scope), strings.TrimSpace(name)
	switch {
	case scope == "":
		return "", fmt.Errorf("%w: scope is required", ErrCounterInvalidInput)
	case name == "":
		return "", fmt.Errorf("%w: name is required", ErrCounterInvalidInput)
	}
	return scope + ":" + name, nil
}

func (s *sequenceService) pushSettings(ctx context.Context, id string, opts CounterGenerationOptions) error {
	var cfg repositories.CounterConfig
	var parts []string
	if opts.Step > 0 {
		cfg.Step = opts.Step
		parts = append(parts, "step="+strconv.FormatInt(opts.Step, 10))
	}
	if opts.MaxValue != nil {
		maxValue := *opts.MaxValue
		cfg.MaxValue = &maxValue
		parts = append(parts, "max="+strconv.FormatInt(maxValue, 10))
	}
	if opts.InitialValue != nil {
		initial := *opts.InitialValue
		cfg.InitialValue = &initial
		parts = append(parts, "initial="+strconv.FormatInt(initial, 10))
	}
	signature := strings.Join(parts, ",")

	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.pushed[id]; ok && last == signature {
		return nil
	}
	if signature != "" {
		if err := s.repo.Configure(ctx, id, cfg); err != nil {
			return err
		}
	}
	s.pushed[id] = signature
	return nil
}

func render(now time.Time, value int64, opts CounterGenerationOptions) string {
	if opts.Formatter != nil {
		return opts.Formatter(now, value)
	}
	digits := strconv.FormatInt(value, 10)
	if opts.PadLength > 0 {
		digits = fmt.Sprintf("%0*d", opts.PadLength, value)
	}
	return opts.Prefix + digits + opts.Suffix
}
