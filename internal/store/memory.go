package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coinpicks/picks-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Compound operations run under one lock, matching the
// all-or-nothing semantics of the Postgres transactions.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]*model.User
	questions map[string]*model.Question
	picks     map[string]map[string]*model.Pick // userID → questionID → pick
	parlays   map[string]*model.Parlay
	legs      map[string][]*model.ParlayLeg // parlayID → legs
	txns      []model.CoinTransaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*model.User),
		questions: make(map[string]*model.Question),
		picks:     make(map[string]map[string]*model.Pick),
		parlays:   make(map[string]*model.Parlay),
		legs:      make(map[string][]*model.ParlayLeg),
	}
}

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	copy := *u
	s.users[u.ID] = &copy
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *u
	return &copy, nil
}

func (s *MemoryStore) Leaderboard(_ context.Context, limit int) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []model.User
	for _, u := range s.users {
		if u.Status == model.UserApproved {
			users = append(users, *u)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Coins != users[j].Coins {
			return users[i].Coins > users[j].Coins
		}
		return users[i].Username < users[j].Username
	})
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (s *MemoryStore) ApplyCoinDelta(_ context.Context, userID string, amount int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.adjustCoinsLocked(userID, amount); err != nil {
		return err
	}
	s.appendTransactionLocked(userID, amount, reason)
	return nil
}

// --- Questions ---

func (s *MemoryStore) CreateQuestion(_ context.Context, q *model.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *q
	s.questions[q.ID] = &copy
	return nil
}

func (s *MemoryStore) GetQuestion(_ context.Context, id string) (*model.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.questions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *q
	return &copy, nil
}

func (s *MemoryStore) GetQuestionsByIDs(_ context.Context, ids []string) ([]model.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var questions []model.Question
	for _, id := range ids {
		if q, ok := s.questions[id]; ok {
			questions = append(questions, *q)
		}
	}
	return questions, nil
}

func (s *MemoryStore) ListQuestions(_ context.Context) ([]model.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	questions := make([]model.Question, 0, len(s.questions))
	for _, q := range s.questions {
		questions = append(questions, *q)
	}
	sort.Slice(questions, func(i, j int) bool {
		return questions[i].CreatedAt.After(questions[j].CreatedAt)
	})
	return questions, nil
}

func (s *MemoryStore) GradeQuestion(_ context.Context, id, answer string) (*model.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.questions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if q.Status != model.QuestionOpen {
		return nil, ErrAlreadyGraded
	}
	q.Status = model.QuestionGraded
	q.CorrectAnswer = answer

	copy := *q
	return &copy, nil
}

// --- Picks ---

func (s *MemoryStore) GetPick(_ context.Context, userID, questionID string) (*model.Pick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.picks[userID][questionID]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListPicksByUser(_ context.Context, userID string) ([]model.Pick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var picks []model.Pick
	for _, p := range s.picks[userID] {
		picks = append(picks, *p)
	}
	sort.Slice(picks, func(i, j int) bool {
		return picks[i].CreatedAt.After(picks[j].CreatedAt)
	})
	return picks, nil
}

func (s *MemoryStore) SavePick(_ context.Context, p *model.Pick, coinDiff int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if coinDiff != 0 {
		if err := s.adjustCoinsLocked(p.UserID, -coinDiff); err != nil {
			return err
		}
		s.appendTransactionLocked(p.UserID, -coinDiff, reason)
	}

	byQuestion, ok := s.picks[p.UserID]
	if !ok {
		byQuestion = make(map[string]*model.Pick)
		s.picks[p.UserID] = byQuestion
	}

	if existing, ok := byQuestion[p.QuestionID]; ok {
		existing.Pick = p.Pick
		existing.Wager = p.Wager
		existing.UpdatedAt = p.UpdatedAt
		return nil
	}

	copy := *p
	byQuestion[p.QuestionID] = &copy
	return nil
}

func (s *MemoryStore) GradePicks(_ context.Context, questionID, answer string) ([]model.Pick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var graded []model.Pick
	for _, byQuestion := range s.picks {
		p, ok := byQuestion[questionID]
		if !ok || (p.IsCorrect != nil && p.Payout != nil) {
			continue
		}
		correct := p.Pick == answer
		p.IsCorrect = &correct
		if !correct {
			zero := int64(0)
			p.Payout = &zero
		}
		p.UpdatedAt = time.Now().UTC()
		graded = append(graded, *p)
	}
	return graded, nil
}

func (s *MemoryStore) SettlePick(_ context.Context, userID, questionID string, payout int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.picks[userID][questionID]
	if !ok {
		return ErrNotFound
	}
	if p.Payout != nil {
		return ErrAlreadySettled
	}
	p.Payout = &payout
	p.UpdatedAt = time.Now().UTC()

	if payout > 0 {
		if err := s.adjustCoinsLocked(userID, payout); err != nil {
			return err
		}
	}
	s.appendTransactionLocked(userID, payout, reason)
	return nil
}

// --- Parlays ---

func (s *MemoryStore) CreateParlay(_ context.Context, p *model.Parlay, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.adjustCoinsLocked(p.UserID, -p.Wager); err != nil {
		return err
	}

	copy := *p
	copy.Legs = nil
	s.parlays[p.ID] = &copy

	for _, leg := range p.Legs {
		legCopy := leg
		legCopy.ParlayID = p.ID
		s.legs[p.ID] = append(s.legs[p.ID], &legCopy)
	}

	s.appendTransactionLocked(p.UserID, -p.Wager, reason)
	return nil
}

func (s *MemoryStore) ListParlaysByUser(_ context.Context, userID string) ([]model.Parlay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var parlays []model.Parlay
	for _, p := range s.parlays {
		if p.UserID == userID {
			parlays = append(parlays, s.parlayWithLegsLocked(p))
		}
	}
	sort.Slice(parlays, func(i, j int) bool {
		return parlays[i].CreatedAt.After(parlays[j].CreatedAt)
	})
	return parlays, nil
}

func (s *MemoryStore) PendingParlaysForQuestion(_ context.Context, questionID string) ([]model.Parlay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var parlays []model.Parlay
	for _, p := range s.parlays {
		if p.Status != model.ParlayPending {
			continue
		}
		for _, leg := range s.legs[p.ID] {
			if leg.QuestionID == questionID {
				parlays = append(parlays, s.parlayWithLegsLocked(p))
				break
			}
		}
	}
	sort.Slice(parlays, func(i, j int) bool {
		return parlays[i].CreatedAt.Before(parlays[j].CreatedAt)
	})
	return parlays, nil
}

func (s *MemoryStore) GradeParlayLegs(_ context.Context, questionID, answer string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, legs := range s.legs {
		for _, leg := range legs {
			if leg.QuestionID != questionID || leg.IsCorrect != nil {
				continue
			}
			correct := leg.Pick == answer
			leg.IsCorrect = &correct
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) SettleParlay(_ context.Context, parlayID, userID, status string, payout int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.parlays[parlayID]
	if !ok {
		return ErrNotFound
	}
	if p.Status != model.ParlayPending {
		return ErrAlreadySettled
	}

	p.Status = status
	p.Payout = &payout
	now := time.Now().UTC()
	p.SettledAt = &now

	if payout > 0 {
		if err := s.adjustCoinsLocked(userID, payout); err != nil {
			return err
		}
	}
	s.appendTransactionLocked(userID, payout, reason)
	return nil
}

// --- Audit log ---

func (s *MemoryStore) ListTransactionsByUser(_ context.Context, userID string) ([]model.CoinTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var txns []model.CoinTransaction
	for i := len(s.txns) - 1; i >= 0; i-- {
		if s.txns[i].UserID == userID {
			txns = append(txns, s.txns[i])
		}
	}
	return txns, nil
}

// --- Locked helpers ---

func (s *MemoryStore) adjustCoinsLocked(userID string, delta int64) error {
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	if u.Coins+delta < 0 {
		return ErrInsufficientCoins
	}
	u.Coins += delta
	return nil
}

func (s *MemoryStore) appendTransactionLocked(userID string, amount int64, reason string) {
	s.txns = append(s.txns, model.CoinTransaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	})
}

func (s *MemoryStore) parlayWithLegsLocked(p *model.Parlay) model.Parlay {
	copy := *p
	copy.Legs = make([]model.ParlayLeg, 0, len(s.legs[p.ID]))
	for _, leg := range s.legs[p.ID] {
		copy.Legs = append(copy.Legs, *leg)
	}
	return copy
}
