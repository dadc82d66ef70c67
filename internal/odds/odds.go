// Package odds implements the parlay multiplier table and payout math.
//
// The multiplier schedule is a business parameter, not a derived law: it is
// keyed by leg count and injected at construction so operators (and tests)
// can swap it. The only structural requirements are full coverage of the
// 2–6 leg domain and strict monotonic increase (more legs → higher
// risk/reward).
//
// Payouts are whole coins. Parlay payouts are floored after multiplication
// and capped; multiplication uses shopspring/decimal — never float64 for
// money.
package odds

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrLegCountOutOfRange is returned when a leg count falls outside
	// the 2–6 domain of the multiplier table.
	ErrLegCountOutOfRange = errors.New("odds: leg count outside multiplier table domain")

	// ErrIncompleteSchedule is returned when a schedule does not cover
	// every leg count from MinLegs to MaxLegs.
	ErrIncompleteSchedule = errors.New("odds: schedule must cover every leg count from 2 to 6")

	// ErrNonIncreasingSchedule is returned when a schedule's multipliers
	// do not strictly increase with leg count.
	ErrNonIncreasingSchedule = errors.New("odds: multipliers must strictly increase with leg count")

	// ErrInvalidPayoutCap is returned when the payout cap is not positive.
	ErrInvalidPayoutCap = errors.New("odds: payout cap must be positive")
)

const (
	// MinLegs and MaxLegs bound the number of legs in a parlay.
	MinLegs = 2
	MaxLegs = 6

	// DefaultPayoutCap is the default ceiling on a single parlay payout.
	DefaultPayoutCap int64 = 500
)

// Table maps leg count to payout multiplier and applies the payout cap.
// It is stateless after construction and safe for concurrent use.
type Table struct {
	multipliers map[int]decimal.Decimal
	payoutCap   int64
}

// NewTable builds a multiplier table from the given schedule and cap. The
// schedule must cover every leg count in [MinLegs, MaxLegs] and be
// strictly increasing.
func NewTable(schedule map[int]decimal.Decimal, payoutCap int64) (*Table, error) {
	if payoutCap <= 0 {
		return nil, ErrInvalidPayoutCap
	}

	multipliers := make(map[int]decimal.Decimal, MaxLegs-MinLegs+1)
	prev := decimal.Zero
	for legs := MinLegs; legs <= MaxLegs; legs++ {
		m, ok := schedule[legs]
		if !ok {
			return nil, ErrIncompleteSchedule
		}
		if m.LessThanOrEqual(prev) {
			return nil, ErrNonIncreasingSchedule
		}
		multipliers[legs] = m
		prev = m
	}

	return &Table{multipliers: multipliers, payoutCap: payoutCap}, nil
}

// DefaultTable returns the production schedule: 3x, 6x, 10x, 20x, 40x for
// 2 through 6 legs, with the default payout cap.
func DefaultTable() *Table {
	t, err := NewTable(map[int]decimal.Decimal{
		2: decimal.NewFromInt(3),
		3: decimal.NewFromInt(6),
		4: decimal.NewFromInt(10),
		5: decimal.NewFromInt(20),
		6: decimal.NewFromInt(40),
	}, DefaultPayoutCap)
	if err != nil {
		panic(err) // the built-in schedule is statically valid
	}
	return t
}

// WithPayoutCap returns a copy of the table using the given cap.
func (t *Table) WithPayoutCap(cap int64) (*Table, error) {
	if cap <= 0 {
		return nil, ErrInvalidPayoutCap
	}
	return &Table{multipliers: t.multipliers, payoutCap: cap}, nil
}

// Multiplier returns the payout multiplier for the given leg count.
func (t *Table) Multiplier(legs int) (decimal.Decimal, error) {
	m, ok := t.multipliers[legs]
	if !ok {
		return decimal.Zero, ErrLegCountOutOfRange
	}
	return m, nil
}

// PayoutCap returns the ceiling applied to parlay payouts.
func (t *Table) PayoutCap() int64 {
	return t.payoutCap
}

// ParlayPayout computes min(cap, floor(wager × multiplier)) for a winning
// parlay with the given leg count.
func (t *Table) ParlayPayout(wager int64, legs int) (int64, error) {
	m, err := t.Multiplier(legs)
	if err != nil {
		return 0, err
	}

	gross := decimal.NewFromInt(wager).Mul(m).Floor().IntPart()
	if gross > t.payoutCap {
		gross = t.payoutCap
	}
	return gross, nil
}

// PickPayout computes the payout for a winning single pick: wager × 2.
// Single picks are not capped; their upside is bounded by the user's own
// balance at stake time.
func PickPayout(wager int64) int64 {
	return wager * 2
}
