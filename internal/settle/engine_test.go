package settle_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coinpicks/picks-engine/internal/model"
	"github.com/coinpicks/picks-engine/internal/odds"
	"github.com/coinpicks/picks-engine/internal/settle"
	"github.com/coinpicks/picks-engine/internal/store"
	"github.com/coinpicks/picks-engine/internal/wager"
)

func newTestEngine(t *testing.T) (*settle.Engine, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return settle.New(ms, odds.DefaultTable(), nil), ms
}

func seedUser(t *testing.T, ms *store.MemoryStore, id string, coins int64) {
	t.Helper()
	err := ms.CreateUser(context.Background(), &model.User{
		ID:        id,
		Username:  id,
		Status:    model.UserApproved,
		Coins:     coins,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
}

func seedQuestion(t *testing.T, ms *store.MemoryStore, id string) {
	t.Helper()
	err := ms.CreateQuestion(context.Background(), &model.Question{
		ID:        id,
		Question:  "Will it resolve yes?",
		Status:    model.QuestionOpen,
		ClosesAt:  time.Now().Add(time.Hour),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed question: %v", err)
	}
}

// seedPick places a pick through the store, debiting the wager.
func seedPick(t *testing.T, ms *store.MemoryStore, userID, questionID, pick string, wagerAmt int64) {
	t.Helper()
	now := time.Now().UTC()
	err := ms.SavePick(context.Background(), &model.Pick{
		ID:         userID + "-" + questionID,
		UserID:     userID,
		QuestionID: questionID,
		Pick:       pick,
		Wager:      wagerAmt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, wagerAmt, "Pick placed")
	if err != nil {
		t.Fatalf("failed to seed pick: %v", err)
	}
}

// seedParlay places a parlay through the store, debiting the full wager.
func seedParlay(t *testing.T, ms *store.MemoryStore, id, userID string, wagerAmt int64, legs map[string]string) {
	t.Helper()
	table := odds.DefaultTable()
	mult, err := table.Multiplier(len(legs))
	if err != nil {
		t.Fatalf("bad leg count: %v", err)
	}
	p := &model.Parlay{
		ID:         id,
		UserID:     userID,
		Wager:      wagerAmt,
		LegsCount:  len(legs),
		Multiplier: mult,
		Status:     model.ParlayPending,
		CreatedAt:  time.Now().UTC(),
	}
	for qID, pick := range legs {
		p.Legs = append(p.Legs, model.ParlayLeg{
			ID:         id + "-" + qID,
			ParlayID:   id,
			QuestionID: qID,
			Pick:       pick,
		})
	}
	if err := ms.CreateParlay(context.Background(), p, "Parlay placed"); err != nil {
		t.Fatalf("failed to seed parlay: %v", err)
	}
}

func userCoins(t *testing.T, ms *store.MemoryStore, id string) int64 {
	t.Helper()
	u, err := ms.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to load user: %v", err)
	}
	return u.Coins
}

// --- Single picks ---

func TestGradeQuestion_WinningPickPaysDouble(t *testing.T) {
	eng, ms := newTestEngine(t)
	seedUser(t, ms, "alice", 100)
	seedQuestion(t, ms, "q1")
	seedPick(t, ms, "alice", "q1", "yes", 30) // balance now 70

	res, err := eng.GradeQuestion(context.Background(), "q1", "yes")
	if err != nil {
		t.Fatalf("grade failed: %v", err)
	}

	if res.PicksGraded != 1 || res.PicksWon != 1 {
		t.Errorf("expected 1 graded / 1 won, got %d / %d", res.PicksGraded, res.PicksWon)
	}
	if res.CoinsPaid != 60 {
		t.Errorf("payout should be 2x the 30-coin wager, got %d", res.CoinsPaid)
	}
	// 70 + 60 = 130, a net gain of 30.
	if got := userCoins(t, ms, "alice"); got != 130 {
		t.Errorf("balance should be 130, got %d", got)
	}

	picks, _ := ms.ListPicksByUser(context.Background(), "alice")
	if picks[0].IsCorrect == nil || !*picks[0].IsCorrect {
		t.Error("pick should be marked correct")
	}
	if picks[0].Payout == nil || *picks[0].Payout != 60 {
		t.Errorf("pick payout should be recorded as 60, got %v", picks[0].Payout)
	}
}

func TestGradeQuestion_LosingPickPaysNothing(t *testing.T) {
	eng, ms := newTestEngine(t)
	seedUser(t, ms, "alice", 100)
	seedQuestion(t, ms, "q1")
	seedPick(t, ms, "alice", "q1", "yes", 30)

	res, err := eng.GradeQuestion(context.Background(), "q1", "no")
	if err != nil {
		t.Fatalf("grade failed: %v", err)
	}

	if res.PicksWon != 0 || res.CoinsPaid != 0 {
		t.Errorf("loser must not be paid: won=%d paid=%d", res.PicksWon, res.CoinsPaid)
	}
	if got := userCoins(t, ms, "alice"); got != 70 {
		t.Errorf("balance should stay 70, got %d", got)
	}

	picks, _ := ms.ListPicksByUser(context.Background(), "alice")
	if picks[0].Payout == nil || *picks[0].Payout != 0 {
		t.Errorf("losing pick payout should be 0, got %v", picks[0].Payout)
	}
}

// --- Parlays ---

func TestGradeQuestion_ParlayWinsWhenAllLegsCorrect(t *testing.T) {
	eng, ms := newTestEngine(t)
	seedUser(t, ms, "alice", 100)
	seedQuestion(t, ms, "q1")
	seedQuestion(t, ms, "q2")
	seedParlay(t, ms, "p1", "alice", 40, map[string]string{"q1": "yes", "q2": "no"})
	// Balance after debit: 60.

	res1, err := eng.GradeQuestion(context.Background(), "q1", "yes")
	if err != nil {
		t.Fatalf("grade q1 failed: %v", err)
	}
	if res1.ParlaysPending != 1 {
		t.Errorf("parlay should stay pending with one leg ungraded, got %+v", res1)
	}
	if got := userCoins(t, ms, "alice"); got != 60 {
		t.Errorf("no payout until all legs resolve, balance %d", got)
	}

	res2, err := eng.GradeQuestion(context.Background(), "q2", "no")
	if err != nil {
		t.Fatalf("grade q2 failed: %v", err)
	}
	if res2.ParlaysWon != 1 {
		t.Errorf("parlay should be won, got %+v", res2)
	}
	// 40 × 3 = 120, under the 500 cap.
	if res2.CoinsPaid != 120 {
		t.Errorf("payout should be 120, got %d", res2.CoinsPaid)
	}
	if got := userCoins(t, ms, "alice"); got != 180 {
		t.Errorf("balance should be 180, got %d", got)
	}

	parlays, _ := ms.ListParlaysByUser(context.Background(), "alice")
	if parlays[0].Status != model.ParlayWon {
		t.Errorf("parlay status should be won, got %s", parlays[0].Status)
	}
	if parlays[0].SettledAt == nil {
		t.Error("settled_at should be recorded")
	}
}

func TestGradeQuestion_ParlayLosesOnFirstWrongLeg(t *testing.T) {
	eng, ms := newTestEngine(t)
	seedUser(t, ms, "alice", 100)
	seedQuestion(t, ms, "q1")
	seedQuestion(t, ms, "q2")
	seedQuestion(t, ms, "q3")
	seedParlay(t, ms, "p1", "alice", 40, map[string]string{
		"q1": "yes", "q2": "yes", "q3": "yes",
	})

	// One wrong leg settles the parlay immediately, even with q2 and q3
	// still ungraded.
	res, err := eng.GradeQuestion(context.Background(), "q1", "no")
	if err != nil {
		t.Fatalf("grade failed: %v", err)
	}
	if res.ParlaysLost != 1 {
		t.Errorf("parlay should be lost, got %+v", res)
	}
	if got := userCoins(t, ms, "alice"); got != 60 {
		t.Errorf("wager is not refunded on loss, balance %d", got)
	}

	parlays, _ := ms.ListParlaysByUser(context.Background(), "alice")
	if parlays[0].Status != model.ParlayLost {
		t.Errorf("parlay status should be lost, got %s", parlays[0].Status)
	}
	if parlays[0].Payout == nil || *parlays[0].Payout != 0 {
		t.Errorf("lost parlay payout should be 0, got %v", parlays[0].Payout)
	}

	// Losses still get a zero-amount audit row.
	txns, _ := ms.ListTransactionsByUser(context.Background(), "alice")
	var found bool
	for _, txn := range txns {
		if txn.Amount == 0 && strings.Contains(txn.Reason, "Parlay lost") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a zero-amount loss transaction, got %+v", txns)
	}

	// Grading the remaining legs must not resurrect the parlay.
	eng.GradeQuestion(context.Background(), "q2", "yes")
	eng.GradeQuestion(context.Background(), "q3", "yes")
	if got := userCoins(t, ms, "alice"); got != 60 {
		t.Errorf("settled parlay must not pay out later, balance %d", got)
	}
}

func TestGradeQuestion_ParlayPayoutCapped(t *testing.T) {
	eng, ms := newTestEngine(t)
	seedUser(t, ms, "alice", 1000)
	seedQuestion(t, ms, "q1")
	seedQuestion(t, ms, "q2")
	// 300 × 3 = 900, capped at 500.
	seedParlay(t, ms, "p1", "alice", 300, map[string]string{"q1": "yes", "q2": "yes"})

	eng.GradeQuestion(context.Background(), "q1", "yes")
	res, err := eng.GradeQuestion(context.Background(), "q2", "yes")
	if err != nil {
		t.Fatalf("grade failed: %v", err)
	}

	if res.CoinsPaid != 500 {
		t.Errorf("payout should be capped at 500, got %d", res.CoinsPaid)
	}
	if got := userCoins(t, ms, "alice"); got != 1200 {
		t.Errorf("balance should be 700 + 500 = 1200, got %d", got)
	}
}

// --- Idempotency ---

func TestGradeQuestion_ConflictingAnswerRejected(t *testing.T) {
	eng, ms := newTestEngine(t)
	seedUser(t, ms, "alice", 100)
	seedQuestion(t, ms, "q1")
	seedPick(t, ms, "alice", "q1", "yes", 30)

	if _, err := eng.GradeQuestion(context.Background(), "q1", "yes"); err != nil {
		t.Fatalf("first grade failed: %v", err)
	}
	balance := userCoins(t, ms, "alice")

	_, err := eng.GradeQuestion(context.Background(), "q1", "no")
	if !errors.Is(err, store.ErrAlreadyGraded) {
		t.Fatalf("expected ErrAlreadyGraded, got %v", err)
	}
	if got := userCoins(t, ms, "alice"); got != balance {
		t.Errorf("conflicting re-grade must not move coins: %d → %d", balance, got)
	}
}

func TestGradeQuestion_SameAnswerReplayIsIdempotent(t *testing.T) {
	eng, ms := newTestEngine(t)
	seedUser(t, ms, "alice", 100)
	seedQuestion(t, ms, "q1")
	seedQuestion(t, ms, "q2")
	seedPick(t, ms, "alice", "q1", "yes", 30)
	seedParlay(t, ms, "p1", "alice", 20, map[string]string{"q1": "yes", "q2": "yes"})

	eng.GradeQuestion(context.Background(), "q1", "yes")
	eng.GradeQuestion(context.Background(), "q2", "yes")
	balance := userCoins(t, ms, "alice")
	txns, _ := ms.ListTransactionsByUser(context.Background(), "alice")

	// Replaying with the same answer resumes settlement but finds nothing
	// left to settle.
	res, err := eng.GradeQuestion(context.Background(), "q1", "yes")
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if res.PicksWon != 0 || res.ParlaysWon != 0 || res.CoinsPaid != 0 {
		t.Errorf("replay must settle nothing, got %+v", res)
	}
	if got := userCoins(t, ms, "alice"); got != balance {
		t.Errorf("replay must not move coins: %d → %d", balance, got)
	}
	after, _ := ms.ListTransactionsByUser(context.Background(), "alice")
	if len(after) != len(txns) {
		t.Errorf("replay must not append transactions: %d → %d", len(txns), len(after))
	}
}

func TestGradeQuestion_ResumesInterruptedSettlement(t *testing.T) {
	eng, ms := newTestEngine(t)
	seedUser(t, ms, "alice", 100)
	seedQuestion(t, ms, "q1")
	seedPick(t, ms, "alice", "q1", "yes", 30) // balance now 70

	// Grade the question and mark the pick correct directly, leaving the
	// payout unrecorded: the state after a crash between grading and
	// crediting.
	ctx := context.Background()
	if _, err := ms.GradeQuestion(ctx, "q1", "yes"); err != nil {
		t.Fatalf("grade failed: %v", err)
	}
	if _, err := ms.GradePicks(ctx, "q1", "yes"); err != nil {
		t.Fatalf("grade picks failed: %v", err)
	}
	if got := userCoins(t, ms, "alice"); got != 70 {
		t.Fatalf("winner must not be credited yet, balance %d", got)
	}

	// Re-grading with the same answer picks up the uncredited winner.
	res, err := eng.GradeQuestion(ctx, "q1", "yes")
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if res.PicksWon != 1 || res.CoinsPaid != 60 {
		t.Errorf("resume should credit the winner once, got %+v", res)
	}
	if got := userCoins(t, ms, "alice"); got != 130 {
		t.Errorf("balance should be 130 after resume, got %d", got)
	}

	// A further replay credits nothing more.
	if _, err := eng.GradeQuestion(ctx, "q1", "yes"); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if got := userCoins(t, ms, "alice"); got != 130 {
		t.Errorf("replay must not credit again, balance %d", got)
	}

	txns, _ := ms.ListTransactionsByUser(ctx, "alice")
	var payouts int
	for _, txn := range txns {
		if txn.Amount == 60 {
			payouts++
		}
	}
	if payouts != 1 {
		t.Errorf("expected exactly one 60-coin payout transaction, got %d", payouts)
	}
}

func TestGradeQuestion_InvalidAnswer(t *testing.T) {
	eng, ms := newTestEngine(t)
	seedQuestion(t, ms, "q1")

	_, err := eng.GradeQuestion(context.Background(), "q1", "maybe")
	if !errors.Is(err, wager.ErrInvalidPick) {
		t.Fatalf("expected ErrInvalidPick, got %v", err)
	}
}

func TestGradeQuestion_UnknownQuestion(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.GradeQuestion(context.Background(), "missing", "yes")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// --- Mixed settlement ---

func TestGradeQuestion_SettlesPicksAndParlaysTogether(t *testing.T) {
	eng, ms := newTestEngine(t)
	seedUser(t, ms, "alice", 100)
	seedUser(t, ms, "bob", 100)
	seedQuestion(t, ms, "q1")
	seedQuestion(t, ms, "q2")

	seedPick(t, ms, "alice", "q1", "yes", 10) // wins 20
	seedPick(t, ms, "bob", "q1", "no", 10)    // loses
	seedParlay(t, ms, "p1", "bob", 20, map[string]string{"q1": "yes", "q2": "yes"})

	eng.GradeQuestion(context.Background(), "q2", "yes")
	res, err := eng.GradeQuestion(context.Background(), "q1", "yes")
	if err != nil {
		t.Fatalf("grade failed: %v", err)
	}

	if res.PicksGraded != 2 || res.PicksWon != 1 {
		t.Errorf("expected 2 graded / 1 won, got %d / %d", res.PicksGraded, res.PicksWon)
	}
	if res.ParlaysWon != 1 {
		t.Errorf("bob's parlay should win, got %+v", res)
	}
	// alice: 100 - 10 + 20 = 110.
	if got := userCoins(t, ms, "alice"); got != 110 {
		t.Errorf("alice balance should be 110, got %d", got)
	}
	// bob: 100 - 10 - 20 + 60 = 130.
	if got := userCoins(t, ms, "bob"); got != 130 {
		t.Errorf("bob balance should be 130, got %d", got)
	}
}

// --- HTTP ---

func TestHandleGrade(t *testing.T) {
	eng, ms := newTestEngine(t)
	seedUser(t, ms, "alice", 100)
	seedQuestion(t, ms, "q1")
	seedPick(t, ms, "alice", "q1", "yes", 30)

	r := chi.NewRouter()
	r.Post("/api/v1/questions/{questionID}/grade", eng.HandleGrade)

	do := func(questionID, answer string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(settle.GradeRequest{CorrectAnswer: answer})
		req := httptest.NewRequest("POST", "/api/v1/questions/"+questionID+"/grade", strings.NewReader(string(body)))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	if w := do("q1", "maybe"); w.Code != http.StatusBadRequest {
		t.Errorf("invalid answer: expected 400, got %d", w.Code)
	}
	if w := do("missing", "yes"); w.Code != http.StatusNotFound {
		t.Errorf("unknown question: expected 404, got %d", w.Code)
	}

	w := do("q1", "yes")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res settle.Result
	json.Unmarshal(w.Body.Bytes(), &res)
	if res.PicksWon != 1 || res.CoinsPaid != 60 {
		t.Errorf("unexpected result: %+v", res)
	}

	if w := do("q1", "no"); w.Code != http.StatusConflict {
		t.Errorf("conflicting re-grade: expected 409, got %d", w.Code)
	}
}
