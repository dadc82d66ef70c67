// Package wager accepts coin wagers: single picks and multi-leg parlays.
// Validation is a pure pre-acceptance gate with no side effects; the
// ledger operations live on Service.
package wager

import (
	"errors"
	"time"

	"github.com/coinpicks/picks-engine/internal/model"
	"github.com/coinpicks/picks-engine/internal/odds"
)

var (
	// ErrInvalidWager is returned for a negative pick wager or a
	// non-positive parlay wager.
	ErrInvalidWager = errors.New("wager: invalid wager amount")

	// ErrInsufficientCoins is returned when the wager exceeds what the
	// user can cover.
	ErrInsufficientCoins = errors.New("wager: not enough coins")

	// ErrInvalidLegCount is returned when a parlay has fewer than 2 or
	// more than 6 legs.
	ErrInvalidLegCount = errors.New("wager: parlay must have 2 to 6 legs")

	// ErrDuplicateLeg is returned when two legs reference the same
	// question.
	ErrDuplicateLeg = errors.New("wager: duplicate questions are not allowed in a parlay")

	// ErrInvalidPick is returned for a pick value other than yes or no.
	ErrInvalidPick = errors.New("wager: pick must be yes or no")

	// ErrQuestionNotFound is returned when a referenced question does
	// not exist.
	ErrQuestionNotFound = errors.New("wager: question not found")

	// ErrQuestionClosed is returned when a referenced question is not
	// open or its close time has passed.
	ErrQuestionClosed = errors.New("wager: question is closed")

	// ErrUserNotApproved is returned when the account is not approved
	// for wagering.
	ErrUserNotApproved = errors.New("wager: account is not approved")
)

// Leg is one proposed question+pick inside a parlay.
type Leg struct {
	QuestionID string `json:"question_id"`
	Pick       string `json:"pick"`
}

// ValidateAnswer checks a yes/no value.
func ValidateAnswer(pick string) error {
	if pick != model.AnswerYes && pick != model.AnswerNo {
		return ErrInvalidPick
	}
	return nil
}

// ValidatePickWager checks a single-pick wager against the user's balance.
// A wager of zero is legal (free pick). previousWager is the user's
// pending stake on the same question, refunded implicitly by revision:
// only the delta beyond it must be covered.
func ValidatePickWager(wager, balance, previousWager int64) error {
	if wager < 0 {
		return ErrInvalidWager
	}
	if wager-previousWager > balance {
		return ErrInsufficientCoins
	}
	return nil
}

// ValidateParlay checks a proposed parlay. questions are the resolved rows
// for the legs' question IDs; a leg whose question is absent fails with
// ErrQuestionNotFound. The full wager is debited up front, so it must be
// covered by the current balance with no revision allowance.
func ValidateParlay(wagerAmount int64, legs []Leg, balance int64, questions []model.Question, now time.Time) error {
	if wagerAmount <= 0 {
		return ErrInvalidWager
	}
	if len(legs) < odds.MinLegs || len(legs) > odds.MaxLegs {
		return ErrInvalidLegCount
	}

	seen := make(map[string]bool, len(legs))
	for _, leg := range legs {
		if err := ValidateAnswer(leg.Pick); err != nil {
			return err
		}
		if seen[leg.QuestionID] {
			return ErrDuplicateLeg
		}
		seen[leg.QuestionID] = true
	}

	if wagerAmount > balance {
		return ErrInsufficientCoins
	}

	byID := make(map[string]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	for _, leg := range legs {
		q, ok := byID[leg.QuestionID]
		if !ok {
			return ErrQuestionNotFound
		}
		if !q.Open(now) {
			return ErrQuestionClosed
		}
	}
	return nil
}

// RejectionReason returns the metrics label for a validation error, or
// "other" for anything else.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidWager):
		return "invalid_wager"
	case errors.Is(err, ErrInsufficientCoins):
		return "insufficient_coins"
	case errors.Is(err, ErrInvalidLegCount):
		return "invalid_leg_count"
	case errors.Is(err, ErrDuplicateLeg):
		return "duplicate_leg"
	case errors.Is(err, ErrInvalidPick):
		return "invalid_pick"
	case errors.Is(err, ErrQuestionNotFound):
		return "question_not_found"
	case errors.Is(err, ErrQuestionClosed):
		return "question_closed"
	case errors.Is(err, ErrUserNotApproved):
		return "user_not_approved"
	default:
		return "other"
	}
}
