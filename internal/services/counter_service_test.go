package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/totebags/api/internal/repositories"
)

// fakeSequences records every call made against the counters table.
type fakeSequences struct {
	mu        sync.Mutex
	value     int64
	err       error
	nextIDs   []string
	steps     []int64
	configure []repositories.CounterConfig
}

func (f *fakeSequences) Next(_ context.Context, id string, step int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextIDs = append(f.nextIDs, id)
	f.steps = append(f.steps, step)
	return f.value, f.err
}

func (f *fakeSequences) Configure(_ context.Context, _ string, cfg repositories.CounterConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configure = append(f.configure, cfg)
	return nil
}

func newSequences(t *testing.T, repo *fakeSequences, now time.Time) CounterService {
	t.Helper()
	svc, err := NewCounterService(CounterServiceDeps{Repository: repo, Clock: fixedClock(now)})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}
	return svc
}

func TestCounterServiceRendersValues(t *testing.T) {
	cases := []struct {
		name string
		opts CounterGenerationOptions
		want string
	}{
		{name: "plain", want: "42"},
		{name: "padded with prefix", opts: CounterGenerationOptions{Prefix: "B2B-", PadLength: 4}, want: "B2B-0042"},
		{name: "suffix", opts: CounterGenerationOptions{Suffix: "-MX"}, want: "42-MX"},
		{
			name: "formatter wins",
			opts: CounterGenerationOptions{Prefix: "ignored", Formatter: func(now time.Time, v int64) string {
				return now.Format("0601") + "/" + time.Duration(v).String()
			}},
			want: "2506/42ns",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newSequences(t, &fakeSequences{value: 42}, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
			got, err := svc.Next(context.Background(), "quotes", "global", tc.opts)
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			if got.Value != 42 || got.Formatted != tc.want {
				t.Fatalf("expected 42/%s, got %+v", tc.want, got)
			}
		})
	}
}

func TestCounterServicePushesSettingsOnlyWhenChanged(t *testing.T) {
	repo := &fakeSequences{value: 1}
	svc := newSequences(t, repo, time.Now())
	ctx := context.Background()
	maxValue := int64(999)

	opts := CounterGenerationOptions{Step: 5, MaxValue: &maxValue}
	for range 3 {
		if _, err := svc.Next(ctx, "quotes", "global", opts); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	if len(repo.configure) != 1 {
		t.Fatalf("expected settings pushed once, got %d", len(repo.configure))
	}
	if cfg := repo.configure[0]; cfg.Step != 5 || cfg.MaxValue == nil || *cfg.MaxValue != 999 || cfg.InitialValue != nil {
		t.Fatalf("unexpected config %+v", cfg)
	}

	opts.Step = 10
	if _, err := svc.Next(ctx, "quotes", "global", opts); err != nil {
		t.Fatalf("next: %v", err)
	}
	if len(repo.configure) != 2 || repo.configure[1].Step != 10 {
		t.Fatalf("expected a second push after the step changed, got %+v", repo.configure)
	}
	if repo.steps[len(repo.steps)-1] != 10 {
		t.Fatalf("expected step forwarded to Next, got %v", repo.steps)
	}
}

func TestCounterServiceSkipsConfigureWithoutSettings(t *testing.T) {
	repo := &fakeSequences{value: 3}
	svc := newSequences(t, repo, time.Now())
	if _, err := svc.Next(context.Background(), "orders", "2026", CounterGenerationOptions{}); err != nil {
		t.Fatalf("next: %v", err)
	}
	if len(repo.configure) != 0 {
		t.Fatalf("expected no configure call, got %d", len(repo.configure))
	}
}

func TestCounterServiceMapsRepositoryErrors(t *testing.T) {
	down := repositories.NewError("counter.next", repositories.ErrorKindUnavailable, "", errors.New("dial"))
	cases := map[string]struct {
		err  error
		want error
	}{
		"exhausted":   {err: repositories.NewError("counter.next", repositories.ErrorKindExhausted, "limit", nil), want: ErrCounterExhausted},
		"invalid":     {err: repositories.NewError("counter.next", repositories.ErrorKindInvalidInput, "limit", nil), want: ErrCounterInvalidInput},
		"passthrough": {err: down, want: down},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc := newSequences(t, &fakeSequences{err: tc.err}, time.Now())
			if _, err := svc.Next(context.Background(), "test", "limit", CounterGenerationOptions{}); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCounterServiceRejectsBlankNames(t *testing.T) {
	svc := newSequences(t, &fakeSequences{}, time.Now())
	for _, pair := range [][2]string{{" ", "x"}, {"orders", ""}} {
		if _, err := svc.Next(context.Background(), pair[0], pair[1], CounterGenerationOptions{}); !errors.Is(err, ErrCounterInvalidInput) {
			t.Fatalf("%q/%q: expected invalid input, got %v", pair[0], pair[1], err)
		}
	}
}

func TestCounterServiceNextOrderNumber(t *testing.T) {
	repo := &fakeSequences{value: 7}
	svc := newSequences(t, repo, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))

	got, err := svc.NextOrderNumber(context.Background())
	if err != nil {
		t.Fatalf("next order number: %v", err)
	}
	if got != "TB-2025-000007" {
		t.Fatalf("expected TB-2025-000007, got %s", got)
	}
	if len(repo.nextIDs) != 1 || repo.nextIDs[0] != "orders:2025" {
		t.Fatalf("expected yearly sequence orders:2025, got %v", repo.nextIDs)
	}
}

func TestNewCounterServiceRequiresRepository(t *testing.T) {
	if _, err := NewCounterService(CounterServiceDeps{}); err == nil {
		t.Fatalf("expected error without repository")
	}
}
