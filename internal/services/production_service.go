package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/totebags/api/internal/repositories"
)

// ProductionServiceDeps bundles collaborators required to construct the batch planner.
type ProductionServiceDeps struct {
	Orders     repositories.OrderRepository
	Location   *time.Location
	CutoffHour int
	Clock      func() time.Time
}

type productionService struct {
	orders     repositories.OrderRepository
	location   *time.Location
	cutoffHour int
	clock      func() time.Time
}

// NewProductionService wires the production batch planner.
func NewProductionService(deps ProductionServiceDeps) (ProductionService, error) {
	if deps.Orders == nil {
		return nil, errors.New("production service: order repository is required")
	}
	if deps.CutoffHour < 0 || deps.CutoffHour > 23 {
		return nil, fmt.Errorf("production service: cutoff hour %d out of range", deps.CutoffHour)
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &productionService{
		orders:     deps.Orders,
		location:   loc,
		cutoffHour: deps.CutoffHour,
		clock:      clock,
	}, nil
}

func (s *productionService) Batches(ctx context.Context, query ProductionBatchQuery) (batches []ProductionBatch, err error) {
	ctx, span := tracer.Start(ctx, "production.batches")
	defer func() { endSpan(span, err) }()

	var from, to time.Time
	if query.CutoffToday {
		from = s.startOfDay(s.clock())
		to = from.Add(time.Duration(s.cutoffHour) * time.Hour)
	}
	orders, err := s.orders.ListAwaitingProduction(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("production: list orders: %w", err)
	}

	byKey := make(map[string]*ProductionBatch)
	for _, order := range orders {
		priority := s.beforeCutoff(order.CreatedAt)
		seen := make(map[string]struct{})
		for _, item := range order.Items {
			batch, ok := byKey[item.SKU]
			if !ok {
				batch = &ProductionBatch{SKU: item.SKU}
				byKey[item.SKU] = batch
			}
			if batch.ProductName == "" {
				batch.ProductName = item.ProductName
			}
			if batch.ImageURL == "" {
				batch.ImageURL = item.ImageURL
			}
			batch.TotalQuantity += item.Quantity
			if priority {
				batch.PriorityQuantity += item.Quantity
			}
			if _, dup := seen[item.SKU]; !dup {
				seen[item.SKU] = struct{}{}
				batch.OrderCount++
				batch.OrderNumbers = append(batch.OrderNumbers, order.OrderNumber)
			}
		}
	}

	batches = make([]ProductionBatch, 0, len(byKey))
	for _, batch := range byKey {
		sort.Strings(batch.OrderNumbers)
		batches = append(batches, *batch)
	}
	sort.Slice(batches, func(i, j int) bool {
		if batches[i].TotalQuantity != batches[j].TotalQuantity {
			return batches[i].TotalQuantity > batches[j].TotalQuantity
		}
		return batches[i].SKU < batches[j].SKU
	})
	return batches, nil
}

func (s *productionService) startOfDay(ts time.Time) time.Time {
	local := ts.In(s.location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)
}

// beforeCutoff reports whether ts falls before the cutoff hour of its local day.
func (s *productionService) beforeCutoff(ts time.Time) bool {
	return ts.In(s.location).Hour() < s.cutoffHour
}
