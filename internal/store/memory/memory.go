// Package memory implements the domain store interfaces with in-process
// maps. It backs paper-trading runs that have no database configured and the
// package test suites. Durability semantics are obviously not honored; the
// app refuses to wire it for live trading.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"weatheredge/internal/domain"
)

// Store holds all ledger tables in memory behind one mutex.
type Store struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	orders    map[string]domain.Order
	events    []domain.BreakerEvent
	exits     []domain.EmergencyExit
	audits    []domain.AuditEntry
	nextEvent int64
	nextExit  int64
	nextAudit int64
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		positions: make(map[string]domain.Position),
		orders:    make(map[string]domain.Order),
		nextEvent: 1,
		nextExit:  1,
		nextAudit: 1,
	}
}

// --- domain.PositionStore ---

func (s *Store) Create(ctx context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.ID] = pos
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListByStatus(ctx context.Context, statuses ...domain.PositionStatus) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[domain.PositionStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []domain.Position
	for _, p := range s.positions {
		if want[p.Status] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (s *Store) Close(ctx context.Context, id string, pnl float64, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok || p.Status == domain.PositionStatusClosed {
		return domain.ErrNotFound
	}
	p.Status = domain.PositionStatusClosed
	p.PnL = &pnl
	p.ClosedAt = &closedAt
	s.positions[id] = p
	return nil
}

func (s *Store) MarkLegged(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok || p.Status == domain.PositionStatusClosed {
		return domain.ErrNotFound
	}
	p.Status = domain.PositionStatusLegged
	s.positions[id] = p
	return nil
}

func (s *Store) UpdateShares(ctx context.Context, id string, yesShares, noShares float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.YesShares = yesShares
	p.NoShares = noShares
	s.positions[id] = p
	return nil
}

func (s *Store) CountOpen(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.positions {
		if p.Status == domain.PositionStatusOpen || p.Status == domain.PositionStatusLegged {
			n++
		}
	}
	return n, nil
}

func (s *Store) SumOpenCost(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum float64
	for _, p := range s.positions {
		if p.Status == domain.PositionStatusOpen || p.Status == domain.PositionStatusLegged {
			sum += p.Cost
		}
	}
	return sum, nil
}

func (s *Store) ListClosed(ctx context.Context) ([]domain.Position, error) {
	return s.ListByStatus(ctx, domain.PositionStatusClosed)
}

func (s *Store) CountOpenedSince(ctx context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.positions {
		if !p.OpenedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) SumPnLClosedSince(ctx context.Context, since time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum float64
	for _, p := range s.positions {
		if p.PnL != nil && p.ClosedAt != nil && !p.ClosedAt.Before(since) {
			sum += *p.PnL
		}
	}
	return sum, nil
}

func (s *Store) CountByCorrelationKeySince(ctx context.Context, since time.Time) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int)
	for _, p := range s.positions {
		if !p.OpenedAt.Before(since) && p.CorrelationKey != "" {
			out[p.CorrelationKey]++
		}
	}
	return out, nil
}

// --- domain.OrderStore ---

// Orders returns a separate view implementing domain.OrderStore. The memory
// store is a single object; the split mirrors the postgres constructors.
func (s *Store) Orders() domain.OrderStore { return (*orderView)(s) }

type orderView Store

func (v *orderView) Create(ctx context.Context, order domain.Order) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.positions[order.PositionID]; !ok {
		return domain.ErrNotFound
	}
	v.orders[order.ID] = order
	return nil
}

func (v *orderView) GetByID(ctx context.Context, id string) (domain.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (v *orderView) MarkFilled(ctx context.Context, id string, at time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = domain.OrderStatusFilled
	o.FilledAt = &at
	v.orders[id] = o
	return nil
}

func (v *orderView) MarkRejected(ctx context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = domain.OrderStatusRejected
	v.orders[id] = o
	return nil
}

func (v *orderView) ListPending(ctx context.Context) ([]domain.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []domain.Order
	for _, o := range v.orders {
		if o.Status == domain.OrderStatusPending {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (v *orderView) ListByPosition(ctx context.Context, positionID string) ([]domain.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []domain.Order
	for _, o := range v.orders {
		if o.PositionID == positionID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

// --- domain.BreakerEventStore ---

func (s *Store) Events() domain.BreakerEventStore { return (*eventView)(s) }

type eventView Store

func (v *eventView) Append(ctx context.Context, ev domain.BreakerEvent) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	ev.ID = v.nextEvent
	v.nextEvent++
	v.events = append(v.events, ev)
	return ev.ID, nil
}

func (v *eventView) MarkReset(ctx context.Context, id int64, at time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.events {
		if v.events[i].ID == id {
			t := at
			v.events[i].ResetAt = &t
			return nil
		}
	}
	return domain.ErrNotFound
}

func (v *eventView) LatestOpen(ctx context.Context) (domain.BreakerEvent, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := len(v.events) - 1; i >= 0; i-- {
		if v.events[i].ResetAt == nil {
			return v.events[i], nil
		}
	}
	return domain.BreakerEvent{}, domain.ErrNotFound
}

// --- domain.EmergencyExitStore ---

func (s *Store) Exits() domain.EmergencyExitStore { return (*exitView)(s) }

type exitView Store

func (v *exitView) Append(ctx context.Context, exit domain.EmergencyExit) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	exit.ID = v.nextExit
	v.nextExit++
	v.exits = append(v.exits, exit)
	return nil
}

func (v *exitView) ListByPosition(ctx context.Context, positionID string) ([]domain.EmergencyExit, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []domain.EmergencyExit
	for _, e := range v.exits {
		if e.PositionID == positionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- domain.AuditStore ---

func (s *Store) Audits() domain.AuditStore { return (*auditView)(s) }

type auditView Store

func (v *auditView) Log(ctx context.Context, event string, detail map[string]any) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.audits = append(v.audits, domain.AuditEntry{
		ID:        v.nextAudit,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	v.nextAudit++
	return nil
}

func (v *auditView) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.AuditEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []domain.AuditEntry
	for _, a := range v.audits {
		if a.CreatedAt.Before(cutoff) {
			out = append(out, a)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (v *auditView) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	kept := v.audits[:0]
	var removed int64
	for _, a := range v.audits {
		if a.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	v.audits = kept
	return removed, nil
}
