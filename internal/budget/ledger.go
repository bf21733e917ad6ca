// Package budget tracks provider calls against a daily cap.
package budget

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of the ledger.
type Snapshot struct {
	Day             time.Time     `json:"day"`
	TotalCallsToday int           `json:"total_calls_today"`
	DailyBudgetCap  int           `json:"daily_budget_cap"`
	Remaining       int           `json:"remaining"`
	PerRoute        map[int64]int `json:"per_route"`
	Refusals        int           `json:"refusals"`
}

// Ledger is the running count of provider calls for the current day.
// All mutations go through one mutex so concurrent completions never lose updates.
type Ledger struct {
	mu       sync.Mutex
	cap      int
	loc      *time.Location
	day      time.Time
	total    int
	perRoute map[int64]int
	refusals int
}

// NewLedger creates a ledger with the given daily cap. Day boundaries are evaluated in loc.
func NewLedger(dailyCap int, loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{
		cap:      dailyCap,
		loc:      loc,
		perRoute: make(map[int64]int),
	}
}

// StartOfDay returns midnight of t's day in the ledger's location.
func (l *Ledger) StartOfDay(t time.Time) time.Time {
	local := t.In(l.loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, l.loc)
}

// rollover resets counters when now falls on a new day. Caller holds mu.
func (l *Ledger) rollover(now time.Time) {
	day := l.StartOfDay(now)
	if day.Equal(l.day) {
		return
	}
	l.day = day
	l.total = 0
	l.refusals = 0
	l.perRoute = make(map[int64]int)
}

// Hydrate seeds today's total with calls already persisted, e.g. after a restart.
func (l *Ledger) Hydrate(now time.Time, callsToday int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollover(now)
	if callsToday > l.total {
		l.total = callsToday
	}
}

// TryReserve adds calls for routeID if the cap allows it.
// It returns false, leaving the ledger unchanged, when the reservation would overrun the cap.
func (l *Ledger) TryReserve(routeID int64, calls int, now time.Time) bool {
	if calls < 0 {
		calls = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollover(now)
	if l.total+calls > l.cap {
		l.refusals++
		return false
	}
	l.total += calls
	l.perRoute[routeID] += calls
	return true
}

// Remaining returns the calls left today.
func (l *Ledger) Remaining(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollover(now)
	if rem := l.cap - l.total; rem > 0 {
		return rem
	}
	return 0
}

// TotalToday returns the calls consumed today.
func (l *Ledger) TotalToday(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollover(now)
	return l.total
}

// Cap returns the configured daily cap.
func (l *Ledger) Cap() int {
	return l.cap
}

// Snapshot copies the ledger state.
func (l *Ledger) Snapshot(now time.Time) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollover(now)
	perRoute := make(map[int64]int, len(l.perRoute))
	for id, n := range l.perRoute {
		perRoute[id] = n
	}
	remaining := l.cap - l.total
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		Day:             l.day,
		TotalCallsToday: l.total,
		DailyBudgetCap:  l.cap,
		Remaining:       remaining,
		PerRoute:        perRoute,
		Refusals:        l.refusals,
	}
}

// DailyCapFromMonthly spreads a monthly call budget evenly over 30 days.
func DailyCapFromMonthly(monthly int) int {
	if monthly <= 0 {
		return 0
	}
	return monthly / 30
}
