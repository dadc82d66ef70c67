// Package store defines the persistence interface for the picks engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/coinpicks/picks-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrInsufficientCoins is returned when a debit would push a user's
	// balance below zero. Balances are never negative.
	ErrInsufficientCoins = errors.New("store: insufficient coins")

	// ErrAlreadyGraded is returned when grading a question that is not
	// open. Grading is a one-way open→graded transition.
	ErrAlreadyGraded = errors.New("store: question already graded")

	// ErrAlreadySettled is returned when settling a parlay that is not
	// pending. Won and lost are terminal.
	ErrAlreadySettled = errors.New("store: parlay already settled")
)

// Store is the persistence interface. Compound operations that touch a
// user's balance (SavePick, CreateParlay, SettlePick, SettleParlay,
// ApplyCoinDelta) are atomic units: the balance change, the owning row,
// and the paired CoinTransaction commit together or not at all.
type Store interface {
	// --- Users ---

	// CreateUser persists a new user.
	CreateUser(ctx context.Context, u *model.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// Leaderboard returns up to limit users ordered by coins descending.
	Leaderboard(ctx context.Context, limit int) ([]model.User, error)

	// ApplyCoinDelta adjusts a user's balance and appends the paired
	// audit row. Returns ErrInsufficientCoins if the balance would go
	// negative.
	ApplyCoinDelta(ctx context.Context, userID string, amount int64, reason string) error

	// --- Questions ---

	// CreateQuestion persists a new open question.
	CreateQuestion(ctx context.Context, q *model.Question) error

	// GetQuestion retrieves a question by ID.
	GetQuestion(ctx context.Context, id string) (*model.Question, error)

	// GetQuestionsByIDs retrieves the questions with the given IDs.
	// Missing IDs are simply absent from the result.
	GetQuestionsByIDs(ctx context.Context, ids []string) ([]model.Question, error)

	// ListQuestions returns all questions, newest first.
	ListQuestions(ctx context.Context) ([]model.Question, error)

	// GradeQuestion transitions a question open→graded with the given
	// answer. Returns ErrAlreadyGraded if the question is not open.
	GradeQuestion(ctx context.Context, id, answer string) (*model.Question, error)

	// --- Picks ---

	// GetPick retrieves the pick keyed by (user, question), or
	// ErrNotFound.
	GetPick(ctx context.Context, userID, questionID string) (*model.Pick, error)

	// ListPicksByUser returns a user's picks, newest first.
	ListPicksByUser(ctx context.Context, userID string) ([]model.Pick, error)

	// SavePick upserts the pick keyed by (user, question) and applies
	// coinDiff to the user's balance with the paired audit row. A
	// coinDiff of zero writes no audit row.
	SavePick(ctx context.Context, p *model.Pick, coinDiff int64, reason string) error

	// GradePicks sets is_correct on every ungraded pick for the question
	// (payout is set to zero for incorrect picks) and returns the picks
	// needing settlement. Graded picks with a payout still unrecorded
	// are included so an interrupted settlement run can be resumed;
	// fully settled picks are untouched.
	GradePicks(ctx context.Context, questionID, answer string) ([]model.Pick, error)

	// SettlePick records a winning pick's payout, credits the user, and
	// appends the audit row.
	SettlePick(ctx context.Context, userID, questionID string, payout int64, reason string) error

	// --- Parlays ---

	// CreateParlay persists the parlay and its legs (from p.Legs),
	// debits the full wager, and appends the audit row, all atomically.
	// Returns ErrInsufficientCoins without side effects if the user
	// cannot cover the wager.
	CreateParlay(ctx context.Context, p *model.Parlay, reason string) error

	// ListParlaysByUser returns a user's parlays with legs populated,
	// newest first.
	ListParlaysByUser(ctx context.Context, userID string) ([]model.Parlay, error)

	// PendingParlaysForQuestion returns every pending parlay with at
	// least one leg on the question, legs populated.
	PendingParlaysForQuestion(ctx context.Context, questionID string) ([]model.Parlay, error)

	// GradeParlayLegs sets is_correct on every ungraded leg referencing
	// the question and returns the number of legs transitioned.
	GradeParlayLegs(ctx context.Context, questionID, answer string) (int64, error)

	// SettleParlay transitions a parlay pending→won/lost, credits the
	// owning user's payout if positive, and appends the audit row
	// (zero-amount for losses). Returns ErrAlreadySettled if the parlay
	// is not pending.
	SettleParlay(ctx context.Context, parlayID, userID, status string, payout int64, reason string) error

	// --- Audit log ---

	// ListTransactionsByUser returns a user's coin transactions, newest
	// first.
	ListTransactionsByUser(ctx context.Context, userID string) ([]model.CoinTransaction, error)
}
