package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coinpicks/picks-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for users and questions, the rows the wager hot path reads on
// every request. Balance-mutating writes go to the primary store and
// invalidate the affected user; grading invalidates the question.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	data, err := s.rdb.Get(ctx, userKey(id)).Bytes()
	if err == nil {
		var u model.User
		if json.Unmarshal(data, &u) == nil {
			return &u, nil
		}
	}

	u, err := s.primary.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(u); err == nil {
		s.rdb.Set(ctx, userKey(id), data, s.ttl)
	}
	return u, nil
}

func (s *CachedStore) GetQuestion(ctx context.Context, id string) (*model.Question, error) {
	data, err := s.rdb.Get(ctx, questionKey(id)).Bytes()
	if err == nil {
		var q model.Question
		if json.Unmarshal(data, &q) == nil {
			return &q, nil
		}
	}

	q, err := s.primary.GetQuestion(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheQuestion(ctx, q)
	return q, nil
}

func (s *CachedStore) GetQuestionsByIDs(ctx context.Context, ids []string) ([]model.Question, error) {
	// Multi-row read stays on the primary; per-question entries are only
	// maintained for the single-row hot path.
	return s.primary.GetQuestionsByIDs(ctx, ids)
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	if err := s.primary.CreateUser(ctx, u); err != nil {
		return err
	}
	if data, err := json.Marshal(u); err == nil {
		s.rdb.Set(ctx, userKey(u.ID), data, s.ttl)
	}
	return nil
}

func (s *CachedStore) ApplyCoinDelta(ctx context.Context, userID string, amount int64, reason string) error {
	if err := s.primary.ApplyCoinDelta(ctx, userID, amount, reason); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(userID))
	return nil
}

func (s *CachedStore) CreateQuestion(ctx context.Context, q *model.Question) error {
	if err := s.primary.CreateQuestion(ctx, q); err != nil {
		return err
	}
	s.cacheQuestion(ctx, q)
	return nil
}

func (s *CachedStore) GradeQuestion(ctx context.Context, id, answer string) (*model.Question, error) {
	q, err := s.primary.GradeQuestion(ctx, id, answer)
	if err != nil {
		return nil, err
	}
	s.cacheQuestion(ctx, q)
	return q, nil
}

func (s *CachedStore) SavePick(ctx context.Context, p *model.Pick, coinDiff int64, reason string) error {
	if err := s.primary.SavePick(ctx, p, coinDiff, reason); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(p.UserID))
	return nil
}

func (s *CachedStore) SettlePick(ctx context.Context, userID, questionID string, payout int64, reason string) error {
	if err := s.primary.SettlePick(ctx, userID, questionID, payout, reason); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(userID))
	return nil
}

func (s *CachedStore) CreateParlay(ctx context.Context, p *model.Parlay, reason string) error {
	if err := s.primary.CreateParlay(ctx, p, reason); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(p.UserID))
	return nil
}

func (s *CachedStore) SettleParlay(ctx context.Context, parlayID, userID, status string, payout int64, reason string) error {
	if err := s.primary.SettleParlay(ctx, parlayID, userID, status, payout, reason); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(userID))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) Leaderboard(ctx context.Context, limit int) ([]model.User, error) {
	return s.primary.Leaderboard(ctx, limit)
}

func (s *CachedStore) ListQuestions(ctx context.Context) ([]model.Question, error) {
	return s.primary.ListQuestions(ctx)
}

func (s *CachedStore) GetPick(ctx context.Context, userID, questionID string) (*model.Pick, error) {
	return s.primary.GetPick(ctx, userID, questionID)
}

func (s *CachedStore) ListPicksByUser(ctx context.Context, userID string) ([]model.Pick, error) {
	return s.primary.ListPicksByUser(ctx, userID)
}

func (s *CachedStore) GradePicks(ctx context.Context, questionID, answer string) ([]model.Pick, error) {
	return s.primary.GradePicks(ctx, questionID, answer)
}

func (s *CachedStore) ListParlaysByUser(ctx context.Context, userID string) ([]model.Parlay, error) {
	return s.primary.ListParlaysByUser(ctx, userID)
}

func (s *CachedStore) PendingParlaysForQuestion(ctx context.Context, questionID string) ([]model.Parlay, error) {
	return s.primary.PendingParlaysForQuestion(ctx, questionID)
}

func (s *CachedStore) GradeParlayLegs(ctx context.Context, questionID, answer string) (int64, error) {
	return s.primary.GradeParlayLegs(ctx, questionID, answer)
}

func (s *CachedStore) ListTransactionsByUser(ctx context.Context, userID string) ([]model.CoinTransaction, error) {
	return s.primary.ListTransactionsByUser(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheQuestion(ctx context.Context, q *model.Question) {
	if data, err := json.Marshal(q); err == nil {
		s.rdb.Set(ctx, questionKey(q.ID), data, s.ttl)
	}
}

func userKey(id string) string     { return fmt.Sprintf("user:%s", id) }
func questionKey(id string) string { return fmt.Sprintf("question:%s", id) }
