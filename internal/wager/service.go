package wager

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/coinpicks/picks-engine/internal/feed"
	"github.com/coinpicks/picks-engine/internal/metrics"
	"github.com/coinpicks/picks-engine/internal/model"
	"github.com/coinpicks/picks-engine/internal/odds"
	"github.com/coinpicks/picks-engine/internal/store"
)

// Service handles wager placement and the thin user/question endpoints
// around it. Balance mutations for one user are serialized through a
// per-user mutex; the store's conditional balance update is the backstop
// that keeps balances non-negative regardless.
type Service struct {
	store         store.Store
	odds          *odds.Table
	hub           *feed.Hub
	startingCoins int64

	mu     sync.Mutex
	userMu map[string]*sync.Mutex
}

// NewService creates a wager service. Pass nil for hub if WebSocket
// broadcasting is not needed. startingCoins is granted (and audit-logged)
// to every new user.
func NewService(st store.Store, table *odds.Table, hub *feed.Hub, startingCoins int64) *Service {
	return &Service{
		store:         st,
		odds:          table,
		hub:           hub,
		startingCoins: startingCoins,
		userMu:        make(map[string]*sync.Mutex),
	}
}

// lockUser acquires the mutex serializing balance mutations for one user.
// Entries are never evicted: one mutex per user ever seen, a few words
// each, bounded by the registered user population.
func (s *Service) lockUser(userID string) func() {
	s.mu.Lock()
	m, ok := s.userMu[userID]
	if !ok {
		m = &sync.Mutex{}
		s.userMu[userID] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// --- Request/Response types ---

// CreateUserRequest is the JSON body for POST /users.
type CreateUserRequest struct {
	Username string `json:"username"`
}

// CreateQuestionRequest is the JSON body for POST /questions.
type CreateQuestionRequest struct {
	Question string    `json:"question"`
	ClosesAt time.Time `json:"closes_at"`
}

// PickRequest is the JSON body for POST /picks.
type PickRequest struct {
	UserID     string `json:"user_id"`
	QuestionID string `json:"question_id"`
	Pick       string `json:"pick"`
	Wager      int64  `json:"wager"`
}

// ParlayRequest is the JSON body for POST /parlays.
type ParlayRequest struct {
	UserID string `json:"user_id"`
	Wager  int64  `json:"wager"`
	Legs   []Leg  `json:"legs"`
}

// ParlayResponse is returned from POST /parlays.
type ParlayResponse struct {
	ParlayID   string `json:"parlay_id"`
	Multiplier string `json:"multiplier"`
	MaxPayout  int64  `json:"max_payout"`
}

// --- Wager handlers ---

// PlacePick handles POST /api/v1/picks. Re-submitting before close
// replaces the previous wager; only the delta moves coins.
func (s *Service) PlacePick(w http.ResponseWriter, r *http.Request) {
	var req PickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.QuestionID == "" {
		writeError(w, "user_id and question_id are required", http.StatusBadRequest)
		return
	}
	if err := ValidateAnswer(req.Pick); err != nil {
		s.reject(w, err)
		return
	}

	ctx := r.Context()

	question, err := s.store.GetQuestion(ctx, req.QuestionID)
	if errors.Is(err, store.ErrNotFound) {
		s.reject(w, ErrQuestionNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load question", http.StatusInternalServerError)
		return
	}
	if !question.Open(time.Now()) {
		s.reject(w, ErrQuestionClosed)
		return
	}

	unlock := s.lockUser(req.UserID)
	defer unlock()

	user, err := s.store.GetUser(ctx, req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "user not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load user", http.StatusInternalServerError)
		return
	}
	if user.Status != model.UserApproved {
		s.reject(w, ErrUserNotApproved)
		return
	}

	var previousWager int64
	previous, err := s.store.GetPick(ctx, req.UserID, req.QuestionID)
	switch {
	case err == nil:
		previousWager = previous.Wager
	case errors.Is(err, store.ErrNotFound):
		// First pick on this question.
	default:
		writeError(w, "failed to load pick", http.StatusInternalServerError)
		return
	}

	if err := ValidatePickWager(req.Wager, user.Coins, previousWager); err != nil {
		s.reject(w, err)
		return
	}

	now := time.Now().UTC()
	pick := &model.Pick{
		ID:         uuid.New().String(),
		UserID:     req.UserID,
		QuestionID: req.QuestionID,
		Pick:       req.Pick,
		Wager:      req.Wager,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	reason := fmt.Sprintf("Pick placed (wager %d)", req.Wager)
	if previous != nil {
		pick.ID = previous.ID
		pick.CreatedAt = previous.CreatedAt
		reason = fmt.Sprintf("Pick revised (wager %d → %d)", previousWager, req.Wager)
	}

	coinDiff := req.Wager - previousWager
	if err := s.store.SavePick(ctx, pick, coinDiff, reason); err != nil {
		if errors.Is(err, store.ErrInsufficientCoins) {
			s.reject(w, ErrInsufficientCoins)
			return
		}
		slog.Error("save pick failed", "user", req.UserID, "question", req.QuestionID, "err", err)
		writeError(w, "failed to save pick", http.StatusInternalServerError)
		return
	}

	metrics.WagersPlaced.WithLabelValues("pick").Inc()
	metrics.CoinsWagered.WithLabelValues("pick").Add(float64(req.Wager))

	slog.Info("pick saved",
		"user", req.UserID,
		"question", req.QuestionID,
		"pick", req.Pick,
		"wager", req.Wager,
		"coin_diff", coinDiff,
	)

	s.hub.Broadcast(feed.Event{
		Type:       feed.EventPickPlaced,
		QuestionID: req.QuestionID,
		UserID:     req.UserID,
		Wager:      req.Wager,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pick)
}

// PlaceParlay handles POST /api/v1/parlays. The full wager is debited at
// creation and is non-refundable.
func (s *Service) PlaceParlay(w http.ResponseWriter, r *http.Request) {
	var req ParlayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	unlock := s.lockUser(req.UserID)
	defer unlock()

	user, err := s.store.GetUser(ctx, req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "user not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load user", http.StatusInternalServerError)
		return
	}
	if user.Status != model.UserApproved {
		s.reject(w, ErrUserNotApproved)
		return
	}

	questionIDs := make([]string, len(req.Legs))
	for i, leg := range req.Legs {
		questionIDs[i] = leg.QuestionID
	}
	questions, err := s.store.GetQuestionsByIDs(ctx, questionIDs)
	if err != nil {
		writeError(w, "failed to load questions", http.StatusInternalServerError)
		return
	}

	if err := ValidateParlay(req.Wager, req.Legs, user.Coins, questions, time.Now()); err != nil {
		s.reject(w, err)
		return
	}

	multiplier, err := s.odds.Multiplier(len(req.Legs))
	if err != nil {
		s.reject(w, ErrInvalidLegCount)
		return
	}
	maxPayout, err := s.odds.ParlayPayout(req.Wager, len(req.Legs))
	if err != nil {
		s.reject(w, ErrInvalidLegCount)
		return
	}

	parlay := &model.Parlay{
		ID:         uuid.New().String(),
		UserID:     req.UserID,
		Wager:      req.Wager,
		LegsCount:  len(req.Legs),
		Multiplier: multiplier,
		Status:     model.ParlayPending,
		CreatedAt:  time.Now().UTC(),
	}
	for _, leg := range req.Legs {
		parlay.Legs = append(parlay.Legs, model.ParlayLeg{
			ID:         uuid.New().String(),
			ParlayID:   parlay.ID,
			QuestionID: leg.QuestionID,
			Pick:       leg.Pick,
		})
	}

	reason := fmt.Sprintf("Parlay placed (%d legs)", len(req.Legs))
	if err := s.store.CreateParlay(ctx, parlay, reason); err != nil {
		if errors.Is(err, store.ErrInsufficientCoins) {
			s.reject(w, ErrInsufficientCoins)
			return
		}
		slog.Error("create parlay failed", "user", req.UserID, "err", err)
		writeError(w, "failed to create parlay", http.StatusInternalServerError)
		return
	}

	metrics.WagersPlaced.WithLabelValues("parlay").Inc()
	metrics.CoinsWagered.WithLabelValues("parlay").Add(float64(req.Wager))

	slog.Info("parlay placed",
		"parlay_id", parlay.ID,
		"user", req.UserID,
		"wager", req.Wager,
		"legs", len(req.Legs),
		"multiplier", multiplier.String(),
	)

	s.hub.Broadcast(feed.Event{
		Type:      feed.EventParlayPlaced,
		UserID:    req.UserID,
		ParlayID:  parlay.ID,
		Wager:     req.Wager,
		LegsCount: len(req.Legs),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ParlayResponse{
		ParlayID:   parlay.ID,
		Multiplier: multiplier.String(),
		MaxPayout:  maxPayout,
	})
}

// --- User handlers ---

// CreateUser handles POST /api/v1/users. New users arrive approved with
// the starting coin grant; the request/approval workflow lives upstream.
func (s *Service) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		writeError(w, "username is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	user := &model.User{
		ID:        uuid.New().String(),
		Username:  req.Username,
		Status:    model.UserApproved,
		Coins:     0,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		writeError(w, "failed to create user", http.StatusConflict)
		return
	}

	if s.startingCoins > 0 {
		if err := s.store.ApplyCoinDelta(ctx, user.ID, s.startingCoins, "Starting balance"); err != nil {
			slog.Error("starting grant failed", "user", user.ID, "err", err)
			writeError(w, "failed to grant starting balance", http.StatusInternalServerError)
			return
		}
		user.Coins = s.startingCoins
	}

	slog.Info("user created", "id", user.ID, "username", user.Username, "coins", user.Coins)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

// GetUser handles GET /api/v1/users/{userID}.
func (s *Service) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, "user not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// Leaderboard handles GET /api/v1/leaderboard.
func (s *Service) Leaderboard(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.Leaderboard(r.Context(), 50)
	if err != nil {
		writeError(w, "failed to load leaderboard", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []model.User{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(users)
}

// UserTransactions handles GET /api/v1/users/{userID}/transactions.
func (s *Service) UserTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	txns, err := s.store.ListTransactionsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load transactions", http.StatusInternalServerError)
		return
	}
	if txns == nil {
		txns = []model.CoinTransaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txns)
}

// UserPicks handles GET /api/v1/users/{userID}/picks.
func (s *Service) UserPicks(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	picks, err := s.store.ListPicksByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load picks", http.StatusInternalServerError)
		return
	}
	if picks == nil {
		picks = []model.Pick{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(picks)
}

// UserParlays handles GET /api/v1/users/{userID}/parlays.
func (s *Service) UserParlays(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	parlays, err := s.store.ListParlaysByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load parlays", http.StatusInternalServerError)
		return
	}
	if parlays == nil {
		parlays = []model.Parlay{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(parlays)
}

// --- Question handlers ---

// CreateQuestion handles POST /api/v1/questions.
func (s *Service) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	var req CreateQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" || req.ClosesAt.IsZero() {
		writeError(w, "question and closes_at are required", http.StatusBadRequest)
		return
	}

	question := &model.Question{
		ID:        uuid.New().String(),
		Question:  req.Question,
		Status:    model.QuestionOpen,
		ClosesAt:  req.ClosesAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateQuestion(r.Context(), question); err != nil {
		writeError(w, "failed to create question", http.StatusInternalServerError)
		return
	}

	slog.Info("question created", "id", question.ID, "closes_at", question.ClosesAt)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(question)
}

// ListQuestions handles GET /api/v1/questions.
func (s *Service) ListQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := s.store.ListQuestions(r.Context())
	if err != nil {
		writeError(w, "failed to list questions", http.StatusInternalServerError)
		return
	}
	if questions == nil {
		questions = []model.Question{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(questions)
}

// GetQuestion handles GET /api/v1/questions/{questionID}.
func (s *Service) GetQuestion(w http.ResponseWriter, r *http.Request) {
	questionID := chi.URLParam(r, "questionID")

	question, err := s.store.GetQuestion(r.Context(), questionID)
	if err != nil {
		writeError(w, "question not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(question)
}

// --- Error helpers ---

// reject writes a validation rejection and bumps the rejection counter.
func (s *Service) reject(w http.ResponseWriter, err error) {
	metrics.WagerRejections.WithLabelValues(RejectionReason(err)).Inc()
	writeError(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrQuestionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrQuestionClosed):
		return http.StatusConflict
	case errors.Is(err, ErrUserNotApproved):
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
