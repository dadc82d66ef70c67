// Package settle grades questions and settles every wager riding on them.
package settle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coinpicks/picks-engine/internal/feed"
	"github.com/coinpicks/picks-engine/internal/metrics"
	"github.com/coinpicks/picks-engine/internal/model"
	"github.com/coinpicks/picks-engine/internal/odds"
	"github.com/coinpicks/picks-engine/internal/store"
	"github.com/coinpicks/picks-engine/internal/wager"
)

// Engine grades questions and settles the picks and parlays that reference
// them. Grading is idempotent: the open to graded transition is guarded in
// the store, and every row update is gated on the row still being
// unsettled, so a partially failed run can be retried safely.
type Engine struct {
	store store.Store
	odds  *odds.Table
	hub   *feed.Hub
}

// New creates a settlement engine.
func New(st store.Store, table *odds.Table, hub *feed.Hub) *Engine {
	return &Engine{store: st, odds: table, hub: hub}
}

// Result summarizes one grading run.
type Result struct {
	Question       *model.Question `json:"question"`
	PicksGraded    int             `json:"picks_graded"`
	PicksWon       int             `json:"picks_won"`
	LegsGraded     int64           `json:"legs_graded"`
	ParlaysWon     int             `json:"parlays_won"`
	ParlaysLost    int             `json:"parlays_lost"`
	ParlaysPending int             `json:"parlays_pending"`
	CoinsPaid      int64           `json:"coins_paid"`
}

// GradeQuestion records the correct answer for a question and settles all
// wagers on it: winning picks are credited, parlay legs are marked, and
// parlays whose outcome is now decided are settled. Parlays with other
// legs still ungraded stay pending.
//
// Settlement failures on individual wagers do not abort the run; they are
// joined into the returned error so siblings still settle and the failed
// ones can be retried by grading again.
func (e *Engine) GradeQuestion(ctx context.Context, questionID, answer string) (*Result, error) {
	if err := wager.ValidateAnswer(answer); err != nil {
		return nil, err
	}

	question, err := e.store.GradeQuestion(ctx, questionID, answer)
	if errors.Is(err, store.ErrAlreadyGraded) {
		// Re-grading with the same answer resumes settlement: every row
		// update below is gated on the row being unsettled, so wagers
		// that already paid out are untouched and only failures from a
		// previous partial run are retried. A conflicting answer is
		// rejected.
		existing, getErr := e.store.GetQuestion(ctx, questionID)
		if getErr != nil {
			return nil, getErr
		}
		if existing.CorrectAnswer != answer {
			return nil, store.ErrAlreadyGraded
		}
		question = existing
	} else if err != nil {
		return nil, err
	}

	metrics.QuestionsGraded.Inc()
	slog.Info("question graded", "question", questionID, "answer", answer)

	res := &Result{Question: question}
	var settleErrs error

	// Single picks: mark correctness, credit winners.
	picks, err := e.store.GradePicks(ctx, questionID, answer)
	if err != nil {
		return res, fmt.Errorf("grade picks: %w", err)
	}
	res.PicksGraded = len(picks)

	for i := range picks {
		p := &picks[i]
		if p.IsCorrect == nil || !*p.IsCorrect {
			metrics.Settlements.WithLabelValues("pick", "lost").Inc()
			continue
		}

		payout := odds.PickPayout(p.Wager)
		err := e.store.SettlePick(ctx, p.UserID, p.QuestionID, payout, fmt.Sprintf("Pick won (wager %d)", p.Wager))
		if errors.Is(err, store.ErrAlreadySettled) {
			continue
		}
		if err != nil {
			metrics.SettlementErrors.Inc()
			slog.Error("pick settlement failed", "user", p.UserID, "question", questionID, "err", err)
			settleErrs = errors.Join(settleErrs, fmt.Errorf("settle pick for user %s: %w", p.UserID, err))
			continue
		}

		res.PicksWon++
		res.CoinsPaid += payout
		metrics.Settlements.WithLabelValues("pick", "won").Inc()
		metrics.CoinsPaidOut.Add(float64(payout))

		e.hub.Broadcast(feed.Event{
			Type:       feed.EventPickSettled,
			QuestionID: questionID,
			UserID:     p.UserID,
			Payout:     payout,
		})
	}

	// Parlay legs referencing this question.
	legsGraded, err := e.store.GradeParlayLegs(ctx, questionID, answer)
	if err != nil {
		return res, errors.Join(settleErrs, fmt.Errorf("grade parlay legs: %w", err))
	}
	res.LegsGraded = legsGraded

	// Settle the parlays whose outcome is now decided.
	parlays, err := e.store.PendingParlaysForQuestion(ctx, questionID)
	if err != nil {
		return res, errors.Join(settleErrs, fmt.Errorf("load pending parlays: %w", err))
	}

	for i := range parlays {
		p := &parlays[i]
		if err := e.settleParlay(ctx, p, res); err != nil {
			metrics.SettlementErrors.Inc()
			slog.Error("parlay settlement failed", "parlay", p.ID, "user", p.UserID, "err", err)
			settleErrs = errors.Join(settleErrs, fmt.Errorf("settle parlay %s: %w", p.ID, err))
		}
	}

	e.hub.Broadcast(feed.Event{
		Type:       feed.EventQuestionGraded,
		QuestionID: questionID,
		Answer:     answer,
	})

	slog.Info("settlement complete",
		"question", questionID,
		"picks_graded", res.PicksGraded,
		"picks_won", res.PicksWon,
		"parlays_won", res.ParlaysWon,
		"parlays_lost", res.ParlaysLost,
		"parlays_pending", res.ParlaysPending,
		"coins_paid", res.CoinsPaid,
	)

	return res, settleErrs
}

// settleParlay settles one pending parlay if its outcome is decided.
// One wrong leg loses the whole parlay immediately, even with legs still
// ungraded. A win requires every leg graded correct.
func (e *Engine) settleParlay(ctx context.Context, p *model.Parlay, res *Result) error {
	hasLoss := false
	allWon := true
	for _, leg := range p.Legs {
		if leg.IsCorrect == nil {
			allWon = false
			continue
		}
		if !*leg.IsCorrect {
			hasLoss = true
		}
	}

	switch {
	case hasLoss:
		reason := fmt.Sprintf("Parlay lost (%d legs, %sx)", p.LegsCount, p.Multiplier.String())
		err := e.store.SettleParlay(ctx, p.ID, p.UserID, model.ParlayLost, 0, reason)
		if errors.Is(err, store.ErrAlreadySettled) {
			return nil
		}
		if err != nil {
			return err
		}

		res.ParlaysLost++
		metrics.Settlements.WithLabelValues("parlay", "lost").Inc()
		e.hub.Broadcast(feed.Event{
			Type:     feed.EventParlaySettled,
			UserID:   p.UserID,
			ParlayID: p.ID,
			Status:   model.ParlayLost,
		})
		return nil

	case allWon:
		payout, err := e.odds.ParlayPayout(p.Wager, p.LegsCount)
		if err != nil {
			return err
		}
		reason := fmt.Sprintf("Parlay won (%d legs, %sx)", p.LegsCount, p.Multiplier.String())
		err = e.store.SettleParlay(ctx, p.ID, p.UserID, model.ParlayWon, payout, reason)
		if errors.Is(err, store.ErrAlreadySettled) {
			return nil
		}
		if err != nil {
			return err
		}

		res.ParlaysWon++
		res.CoinsPaid += payout
		metrics.Settlements.WithLabelValues("parlay", "won").Inc()
		metrics.CoinsPaidOut.Add(float64(payout))
		e.hub.Broadcast(feed.Event{
			Type:     feed.EventParlaySettled,
			UserID:   p.UserID,
			ParlayID: p.ID,
			Status:   model.ParlayWon,
			Payout:   payout,
		})
		return nil

	default:
		res.ParlaysPending++
		return nil
	}
}

// --- HTTP ---

// GradeRequest is the JSON body for POST /questions/{questionID}/grade.
type GradeRequest struct {
	CorrectAnswer string `json:"correct_answer"`
}

// HandleGrade handles POST /api/v1/questions/{questionID}/grade.
func (e *Engine) HandleGrade(w http.ResponseWriter, r *http.Request) {
	questionID := chi.URLParam(r, "questionID")

	var req GradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := e.GradeQuestion(r.Context(), questionID, req.CorrectAnswer)
	switch {
	case errors.Is(err, wager.ErrInvalidPick):
		writeError(w, "correct_answer must be yes or no", http.StatusBadRequest)
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "question not found", http.StatusNotFound)
		return
	case errors.Is(err, store.ErrAlreadyGraded):
		writeError(w, "question already graded", http.StatusConflict)
		return
	case err != nil:
		// Partial settlement: the grade stuck but some wagers failed to
		// settle. Report the failure; re-grading is safe and retries them.
		slog.Error("settlement incomplete", "question", questionID, "err", err)
		writeError(w, "settlement incomplete, retry grading", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
