package wager_test

import (
	"errors"
	"testing"
	"time"

	"github.com/coinpicks/picks-engine/internal/model"
	"github.com/coinpicks/picks-engine/internal/wager"
)

func openQuestion(id string) model.Question {
	return model.Question{
		ID:        id,
		Question:  "Will it happen?",
		Status:    model.QuestionOpen,
		ClosesAt:  time.Now().Add(time.Hour),
		CreatedAt: time.Now().UTC(),
	}
}

func TestValidateAnswer(t *testing.T) {
	if err := wager.ValidateAnswer("yes"); err != nil {
		t.Errorf("yes should be valid: %v", err)
	}
	if err := wager.ValidateAnswer("no"); err != nil {
		t.Errorf("no should be valid: %v", err)
	}
	if err := wager.ValidateAnswer("maybe"); !errors.Is(err, wager.ErrInvalidPick) {
		t.Errorf("expected ErrInvalidPick, got %v", err)
	}
	if err := wager.ValidateAnswer("YES"); !errors.Is(err, wager.ErrInvalidPick) {
		t.Errorf("answers are case-sensitive, got %v", err)
	}
}

func TestValidatePickWager(t *testing.T) {
	tests := []struct {
		name          string
		wager         int64
		balance       int64
		previousWager int64
		wantErr       error
	}{
		{"simple wager within balance", 30, 100, 0, nil},
		{"wager equal to balance", 100, 100, 0, nil},
		{"zero wager is a free pick", 0, 100, 0, nil},
		{"zero wager with zero balance", 0, 0, 0, nil},
		{"negative wager", -5, 100, 0, wager.ErrInvalidWager},
		{"wager over balance", 101, 100, 0, wager.ErrInsufficientCoins},
		{"revision covered by refund", 120, 100, 50, nil},
		{"revision down always allowed", 10, 0, 50, nil},
		{"revision over refund plus balance", 151, 100, 50, wager.ErrInsufficientCoins},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wager.ValidatePickWager(tt.wager, tt.balance, tt.previousWager)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidatePickWager(%d, %d, %d) = %v, want %v",
					tt.wager, tt.balance, tt.previousWager, err, tt.wantErr)
			}
		})
	}
}

func TestValidateParlay(t *testing.T) {
	now := time.Now()
	q1 := openQuestion("q1")
	q2 := openQuestion("q2")
	q3 := openQuestion("q3")
	questions := []model.Question{q1, q2, q3}

	legs := func(ids ...string) []wager.Leg {
		out := make([]wager.Leg, len(ids))
		for i, id := range ids {
			out[i] = wager.Leg{QuestionID: id, Pick: "yes"}
		}
		return out
	}

	t.Run("valid two-leg parlay", func(t *testing.T) {
		if err := wager.ValidateParlay(50, legs("q1", "q2"), 100, questions, now); err != nil {
			t.Errorf("expected valid, got %v", err)
		}
	})

	t.Run("zero wager rejected", func(t *testing.T) {
		err := wager.ValidateParlay(0, legs("q1", "q2"), 100, questions, now)
		if !errors.Is(err, wager.ErrInvalidWager) {
			t.Errorf("expected ErrInvalidWager, got %v", err)
		}
	})

	t.Run("single leg rejected", func(t *testing.T) {
		err := wager.ValidateParlay(50, legs("q1"), 100, questions, now)
		if !errors.Is(err, wager.ErrInvalidLegCount) {
			t.Errorf("expected ErrInvalidLegCount, got %v", err)
		}
	})

	t.Run("seven legs rejected", func(t *testing.T) {
		err := wager.ValidateParlay(50, legs("a", "b", "c", "d", "e", "f", "g"), 100, questions, now)
		if !errors.Is(err, wager.ErrInvalidLegCount) {
			t.Errorf("expected ErrInvalidLegCount, got %v", err)
		}
	})

	t.Run("duplicate question rejected", func(t *testing.T) {
		err := wager.ValidateParlay(50, legs("q1", "q1"), 100, questions, now)
		if !errors.Is(err, wager.ErrDuplicateLeg) {
			t.Errorf("expected ErrDuplicateLeg, got %v", err)
		}
	})

	t.Run("bad pick value rejected", func(t *testing.T) {
		bad := []wager.Leg{{QuestionID: "q1", Pick: "yes"}, {QuestionID: "q2", Pick: "nah"}}
		err := wager.ValidateParlay(50, bad, 100, questions, now)
		if !errors.Is(err, wager.ErrInvalidPick) {
			t.Errorf("expected ErrInvalidPick, got %v", err)
		}
	})

	t.Run("wager over balance rejected", func(t *testing.T) {
		err := wager.ValidateParlay(101, legs("q1", "q2"), 100, questions, now)
		if !errors.Is(err, wager.ErrInsufficientCoins) {
			t.Errorf("expected ErrInsufficientCoins, got %v", err)
		}
	})

	t.Run("unknown question rejected", func(t *testing.T) {
		err := wager.ValidateParlay(50, legs("q1", "missing"), 100, questions, now)
		if !errors.Is(err, wager.ErrQuestionNotFound) {
			t.Errorf("expected ErrQuestionNotFound, got %v", err)
		}
	})

	t.Run("closed question rejected", func(t *testing.T) {
		closed := openQuestion("q4")
		closed.ClosesAt = now.Add(-time.Minute)
		err := wager.ValidateParlay(50, legs("q1", "q4"), 100, append(questions, closed), now)
		if !errors.Is(err, wager.ErrQuestionClosed) {
			t.Errorf("expected ErrQuestionClosed, got %v", err)
		}
	})

	t.Run("graded question rejected", func(t *testing.T) {
		graded := openQuestion("q5")
		graded.Status = model.QuestionGraded
		err := wager.ValidateParlay(50, legs("q1", "q5"), 100, append(questions, graded), now)
		if !errors.Is(err, wager.ErrQuestionClosed) {
			t.Errorf("expected ErrQuestionClosed, got %v", err)
		}
	})

	t.Run("six legs allowed", func(t *testing.T) {
		qs := make([]model.Question, 6)
		ids := make([]string, 6)
		for i := range qs {
			ids[i] = string(rune('a' + i))
			qs[i] = openQuestion(ids[i])
		}
		if err := wager.ValidateParlay(50, legs(ids...), 100, qs, now); err != nil {
			t.Errorf("expected valid, got %v", err)
		}
	})
}

func TestRejectionReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{wager.ErrInvalidWager, "invalid_wager"},
		{wager.ErrInsufficientCoins, "insufficient_coins"},
		{wager.ErrInvalidLegCount, "invalid_leg_count"},
		{wager.ErrDuplicateLeg, "duplicate_leg"},
		{wager.ErrInvalidPick, "invalid_pick"},
		{wager.ErrQuestionNotFound, "question_not_found"},
		{wager.ErrQuestionClosed, "question_closed"},
		{wager.ErrUserNotApproved, "user_not_approved"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		if got := wager.RejectionReason(tt.err); got != tt.want {
			t.Errorf("RejectionReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
