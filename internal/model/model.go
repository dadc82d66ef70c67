// Package model defines the core domain types shared across the picks engine.
// Coin balances, wagers, and payouts are whole coins (int64); the parlay
// multiplier uses shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User account statuses. Account request/approval happens outside the
// engine; only approved users can wager.
const (
	UserPending  = "pending"
	UserApproved = "approved"
	UserDenied   = "denied"
)

// Question statuses. A question is graded exactly once.
const (
	QuestionOpen   = "open"
	QuestionGraded = "graded"
)

// Parlay statuses. Won and lost are terminal.
const (
	ParlayPending = "pending"
	ParlayWon     = "won"
	ParlayLost    = "lost"
)

// Answer values for picks, parlay legs, and graded questions.
const (
	AnswerYes = "yes"
	AnswerNo  = "no"
)

// User holds an account's coin balance. The balance is mutated only by the
// wager ledger and the settlement engine, always paired with a
// CoinTransaction row.
type User struct {
	ID        string    `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Status    string    `json:"status" db:"status"`
	Coins     int64     `json:"coins" db:"coins"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Question is a yes/no proposition users wager on. CorrectAnswer is empty
// until the question is graded.
type Question struct {
	ID            string    `json:"id" db:"id"`
	Question      string    `json:"question" db:"question"`
	Status        string    `json:"status" db:"status"`
	ClosesAt      time.Time `json:"closes_at" db:"closes_at"`
	CorrectAnswer string    `json:"correct_answer,omitempty" db:"correct_answer"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Open reports whether the question still accepts wagers at the given time.
func (q *Question) Open(now time.Time) bool {
	return q.Status == QuestionOpen && q.ClosesAt.After(now)
}

// Pick is a single-question wager. One live pick per (user, question);
// re-submitting before close replaces the wager. IsCorrect and Payout stay
// nil until the question is graded.
type Pick struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	QuestionID string    `json:"question_id" db:"question_id"`
	Pick       string    `json:"pick" db:"pick"`
	Wager      int64     `json:"wager" db:"wager"`
	IsCorrect  *bool     `json:"is_correct" db:"is_correct"`
	Payout     *int64    `json:"payout" db:"payout"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Parlay is a bundle of 2–6 legs that must all resolve correctly to pay
// out. The full wager is debited at creation and is non-refundable.
type Parlay struct {
	ID         string          `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Wager      int64           `json:"wager" db:"wager"`
	LegsCount  int             `json:"legs_count" db:"legs_count"`
	Multiplier decimal.Decimal `json:"multiplier" db:"multiplier"`
	Status     string          `json:"status" db:"status"`
	Payout     *int64          `json:"payout" db:"payout"`
	Legs       []ParlayLeg     `json:"legs,omitempty"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	SettledAt  *time.Time      `json:"settled_at" db:"settled_at"`
}

// ParlayLeg is one constituent question+pick inside a parlay. Question IDs
// are unique within a parlay.
type ParlayLeg struct {
	ID         string `json:"id" db:"id"`
	ParlayID   string `json:"parlay_id" db:"parlay_id"`
	QuestionID string `json:"question_id" db:"question_id"`
	Pick       string `json:"pick" db:"pick"`
	IsCorrect  *bool  `json:"is_correct" db:"is_correct"`
}

// CoinTransaction is an append-only audit record. Every balance mutation
// is paired with exactly one transaction row explaining it.
type CoinTransaction struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Amount    int64     `json:"amount" db:"amount"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
