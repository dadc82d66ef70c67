package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coinpicks/picks-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// The parlay multiplier is stored as NUMERIC for exact decimal precision;
// coin amounts are BIGINT. Every compound balance mutation runs in a
// single transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, status, coins, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, u.Status, u.Coins, u.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, status, coins, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.Status, &u.Coins, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &u, nil
}

func (s *PostgresStore) Leaderboard(ctx context.Context, limit int) ([]model.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, username, status, coins, created_at
		 FROM users WHERE status = $1
		 ORDER BY coins DESC, username LIMIT $2`,
		model.UserApproved, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Status, &u.Coins, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) ApplyCoinDelta(ctx context.Context, userID string, amount int64, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := adjustCoins(ctx, tx, userID, amount); err != nil {
		return err
	}
	if err := insertTransaction(ctx, tx, userID, amount, reason); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- Questions ---

func (s *PostgresStore) CreateQuestion(ctx context.Context, q *model.Question) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO questions (id, question, status, closes_at, correct_answer, created_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
		q.ID, q.Question, q.Status, q.ClosesAt, q.CorrectAnswer, q.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetQuestion(ctx context.Context, id string) (*model.Question, error) {
	q, err := scanQuestion(s.pool.QueryRow(ctx,
		`SELECT id, question, status, closes_at, COALESCE(correct_answer, ''), created_at
		 FROM questions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get question %s: %w", id, err)
	}
	return q, nil
}

func (s *PostgresStore) GetQuestionsByIDs(ctx context.Context, ids []string) ([]model.Question, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, question, status, closes_at, COALESCE(correct_answer, ''), created_at
		 FROM questions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanQuestions(rows)
}

func (s *PostgresStore) ListQuestions(ctx context.Context) ([]model.Question, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, question, status, closes_at, COALESCE(correct_answer, ''), created_at
		 FROM questions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanQuestions(rows)
}

func (s *PostgresStore) GradeQuestion(ctx context.Context, id, answer string) (*model.Question, error) {
	q, err := scanQuestion(s.pool.QueryRow(ctx,
		`UPDATE questions SET status = $3, correct_answer = $2
		 WHERE id = $1 AND status = $4
		 RETURNING id, question, status, closes_at, COALESCE(correct_answer, ''), created_at`,
		id, answer, model.QuestionGraded, model.QuestionOpen))
	if errors.Is(err, pgx.ErrNoRows) {
		// Not open: either already graded or missing.
		if _, getErr := s.GetQuestion(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrAlreadyGraded
	}
	if err != nil {
		return nil, fmt.Errorf("grade question %s: %w", id, err)
	}
	return q, nil
}

// --- Picks ---

func (s *PostgresStore) GetPick(ctx context.Context, userID, questionID string) (*model.Pick, error) {
	p, err := scanPick(s.pool.QueryRow(ctx,
		`SELECT id, user_id, question_id, pick, wager, is_correct, payout, created_at, updated_at
		 FROM picks WHERE user_id = $1 AND question_id = $2`, userID, questionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pick (%s, %s): %w", userID, questionID, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPicksByUser(ctx context.Context, userID string) ([]model.Pick, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, question_id, pick, wager, is_correct, payout, created_at, updated_at
		 FROM picks WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPicks(rows)
}

func (s *PostgresStore) SavePick(ctx context.Context, p *model.Pick, coinDiff int64, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if coinDiff != 0 {
		if err := adjustCoins(ctx, tx, p.UserID, -coinDiff); err != nil {
			return err
		}
		if err := insertTransaction(ctx, tx, p.UserID, -coinDiff, reason); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO picks (id, user_id, question_id, pick, wager, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 ON CONFLICT (user_id, question_id)
		 DO UPDATE SET pick = EXCLUDED.pick, wager = EXCLUDED.wager, updated_at = EXCLUDED.updated_at`,
		p.ID, p.UserID, p.QuestionID, p.Pick, p.Wager, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save pick (%s, %s): %w", p.UserID, p.QuestionID, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GradePicks(ctx context.Context, questionID, answer string) ([]model.Pick, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE picks
		 SET is_correct = (pick = $2),
		     payout = CASE WHEN pick = $2 THEN payout ELSE 0 END,
		     updated_at = now()
		 WHERE question_id = $1 AND (is_correct IS NULL OR payout IS NULL)
		 RETURNING id, user_id, question_id, pick, wager, is_correct, payout, created_at, updated_at`,
		questionID, answer)
	if err != nil {
		return nil, fmt.Errorf("grade picks for question %s: %w", questionID, err)
	}
	defer rows.Close()

	return scanPicks(rows)
}

func (s *PostgresStore) SettlePick(ctx context.Context, userID, questionID string, payout int64, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx,
		`UPDATE picks SET payout = $3, updated_at = now()
		 WHERE user_id = $1 AND question_id = $2 AND payout IS NULL`,
		userID, questionID, payout)
	if err != nil {
		return fmt.Errorf("settle pick (%s, %s): %w", userID, questionID, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAlreadySettled
	}

	if payout > 0 {
		if err := adjustCoins(ctx, tx, userID, payout); err != nil {
			return err
		}
	}
	if err := insertTransaction(ctx, tx, userID, payout, reason); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- Parlays ---

func (s *PostgresStore) CreateParlay(ctx context.Context, p *model.Parlay, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := adjustCoins(ctx, tx, p.UserID, -p.Wager); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO parlays (id, user_id, wager, legs_count, multiplier, status, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7)`,
		p.ID, p.UserID, p.Wager, p.LegsCount, p.Multiplier.String(), p.Status, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert parlay %s: %w", p.ID, err)
	}

	for _, leg := range p.Legs {
		_, err = tx.Exec(ctx,
			`INSERT INTO parlay_legs (id, parlay_id, question_id, pick)
			 VALUES ($1, $2, $3, $4)`,
			leg.ID, p.ID, leg.QuestionID, leg.Pick,
		)
		if err != nil {
			return fmt.Errorf("insert parlay leg %s: %w", leg.ID, err)
		}
	}

	if err := insertTransaction(ctx, tx, p.UserID, -p.Wager, reason); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListParlaysByUser(ctx context.Context, userID string) ([]model.Parlay, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, wager, legs_count, multiplier::TEXT, status, payout, created_at, settled_at
		 FROM parlays WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	parlays, err := scanParlays(rows)
	if err != nil {
		return nil, err
	}
	return s.attachLegs(ctx, parlays)
}

func (s *PostgresStore) PendingParlaysForQuestion(ctx context.Context, questionID string) ([]model.Parlay, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.user_id, p.wager, p.legs_count, p.multiplier::TEXT, p.status, p.payout, p.created_at, p.settled_at
		 FROM parlays p
		 WHERE p.status = $2
		   AND EXISTS (SELECT 1 FROM parlay_legs l WHERE l.parlay_id = p.id AND l.question_id = $1)
		 ORDER BY p.created_at`,
		questionID, model.ParlayPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	parlays, err := scanParlays(rows)
	if err != nil {
		return nil, err
	}
	return s.attachLegs(ctx, parlays)
}

func (s *PostgresStore) GradeParlayLegs(ctx context.Context, questionID, answer string) (int64, error) {
	ct, err := s.pool.Exec(ctx,
		`UPDATE parlay_legs SET is_correct = (pick = $2)
		 WHERE question_id = $1 AND is_correct IS NULL`,
		questionID, answer)
	if err != nil {
		return 0, fmt.Errorf("grade parlay legs for question %s: %w", questionID, err)
	}
	return ct.RowsAffected(), nil
}

func (s *PostgresStore) SettleParlay(ctx context.Context, parlayID, userID, status string, payout int64, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx,
		`UPDATE parlays SET status = $2, payout = $3, settled_at = now()
		 WHERE id = $1 AND status = $4`,
		parlayID, status, payout, model.ParlayPending)
	if err != nil {
		return fmt.Errorf("settle parlay %s: %w", parlayID, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAlreadySettled
	}

	if payout > 0 {
		if err := adjustCoins(ctx, tx, userID, payout); err != nil {
			return err
		}
	}
	if err := insertTransaction(ctx, tx, userID, payout, reason); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- Audit log ---

func (s *PostgresStore) ListTransactionsByUser(ctx context.Context, userID string) ([]model.CoinTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, amount, reason, created_at
		 FROM coin_transactions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []model.CoinTransaction
	for rows.Next() {
		var t model.CoinTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// --- Helpers ---

// adjustCoins applies a signed delta with a non-negative balance guard.
func adjustCoins(ctx context.Context, tx pgx.Tx, userID string, delta int64) error {
	ct, err := tx.Exec(ctx,
		`UPDATE users SET coins = coins + $2 WHERE id = $1 AND coins + $2 >= 0`,
		userID, delta)
	if err != nil {
		return fmt.Errorf("adjust coins for user %s: %w", userID, err)
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrInsufficientCoins
	}
	return nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, userID string, amount int64, reason string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO coin_transactions (id, user_id, amount, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), userID, amount, reason, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert coin transaction for user %s: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) attachLegs(ctx context.Context, parlays []model.Parlay) ([]model.Parlay, error) {
	if len(parlays) == 0 {
		return parlays, nil
	}

	ids := make([]string, len(parlays))
	idx := make(map[string]int, len(parlays))
	for i, p := range parlays {
		ids[i] = p.ID
		idx[p.ID] = i
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, parlay_id, question_id, pick, is_correct
		 FROM parlay_legs WHERE parlay_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var leg model.ParlayLeg
		if err := rows.Scan(&leg.ID, &leg.ParlayID, &leg.QuestionID, &leg.Pick, &leg.IsCorrect); err != nil {
			return nil, err
		}
		i := idx[leg.ParlayID]
		parlays[i].Legs = append(parlays[i].Legs, leg)
	}
	return parlays, rows.Err()
}

type pgxRow interface {
	Scan(dest ...any) error
}

func scanQuestion(row pgxRow) (*model.Question, error) {
	var q model.Question
	if err := row.Scan(&q.ID, &q.Question, &q.Status, &q.ClosesAt, &q.CorrectAnswer, &q.CreatedAt); err != nil {
		return nil, err
	}
	return &q, nil
}

func scanQuestions(rows pgx.Rows) ([]model.Question, error) {
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, *q)
	}
	return questions, rows.Err()
}

func scanPick(row pgxRow) (*model.Pick, error) {
	var p model.Pick
	if err := row.Scan(&p.ID, &p.UserID, &p.QuestionID, &p.Pick, &p.Wager,
		&p.IsCorrect, &p.Payout, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPicks(rows pgx.Rows) ([]model.Pick, error) {
	var picks []model.Pick
	for rows.Next() {
		p, err := scanPick(rows)
		if err != nil {
			return nil, err
		}
		picks = append(picks, *p)
	}
	return picks, rows.Err()
}

func scanParlays(rows pgx.Rows) ([]model.Parlay, error) {
	var parlays []model.Parlay
	for rows.Next() {
		var p model.Parlay
		var multiplier string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Wager, &p.LegsCount, &multiplier,
			&p.Status, &p.Payout, &p.CreatedAt, &p.SettledAt); err != nil {
			return nil, err
		}
		m, err := decimal.NewFromString(multiplier)
		if err != nil {
			return nil, fmt.Errorf("parse multiplier for parlay %s: %w", p.ID, err)
		}
		p.Multiplier = m
		parlays = append(parlays, p)
	}
	return parlays, rows.Err()
}
