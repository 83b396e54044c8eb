// Package api exposes the gateway's internal HTTP surface: notification
// injection from the rest of the platform and a health probe for monitoring.
// It binds to a loopback/private address and carries no authentication of its
// own; it must never be reachable from the public network.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stakehouse/linkbot/internal/config"
	"github.com/stakehouse/linkbot/internal/database"
	"github.com/stakehouse/linkbot/internal/notify"
	"github.com/stakehouse/linkbot/internal/verification"
)

// Health exposes the lifecycle-manager signals the health probe reports.
type Health interface {
	Ready() bool
	Healthy() bool
	ConsecutiveFailures() int
}

// Server serves the internal HTTP API.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      database.Store
	verifier   *verification.Service
	dispatcher *notify.Dispatcher
	health     Health
	srv        *http.Server
}

// New creates the internal API server. Call Start to begin serving.
func New(cfg *config.Config, logger *slog.Logger, store database.Store, verifier *verification.Service, dispatcher *notify.Dispatcher, health Health) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		cfg:        cfg,
		logger:     logger.With("component", "api"),
		store:      store,
		verifier:   verifier,
		dispatcher: dispatcher,
		health:     health,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /internal/verification-codes", s.handleIssueCode)
	mux.HandleFunc("POST /internal/notifications", s.handleNotify)

	s.srv = &http.Server{
		Addr:              cfg.API.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine. Listen errors after startup
// are logged, not returned.
func (s *Server) Start() {
	s.logger.Info("Internal API listening", "addr", s.cfg.API.ListenAddr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Internal API server failed", "error", err)
		}
	}()
}

// Stop shuts the server down, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if !s.health.Healthy() {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"ready":                s.health.Ready(),
		"healthy":              s.health.Healthy(),
		"consecutive_failures": s.health.ConsecutiveFailures(),
	})
}

// issueCodeRequest is posted by the account-settings flow when a player asks
// to link a chat.
type issueCodeRequest struct {
	AccountID int64 `json:"account_id"`
}

type issueCodeResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleIssueCode(w http.ResponseWriter, r *http.Request) {
	var req issueCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.AccountID == 0 {
		http.Error(w, "account_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	account, err := s.store.GetAccountByID(ctx, req.AccountID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Code issuance lookup failed",
			"account_id", req.AccountID, "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if account == nil {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}

	vc, err := s.verifier.Issue(ctx, req.AccountID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Code issuance failed",
			"account_id", req.AccountID, "error", err)
		http.Error(w, "issuance failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(issueCodeResponse{
		Code:      vc.Code,
		ExpiresAt: vc.ExpiresAt,
	})
}

// notifyRequest is the payload the platform posts to push a notification to
// an account's linked chat.
type notifyRequest struct {
	AccountID int64   `json:"account_id"`
	Kind      string  `json:"kind"`
	Amount    float64 `json:"amount,omitempty"`
	Currency  string  `json:"currency,omitempty"`
	Game      string  `json:"game,omitempty"`
	IP        string  `json:"ip,omitempty"`
	Device    string  `json:"device,omitempty"`
	Title     string  `json:"title,omitempty"`
	Body      string  `json:"body,omitempty"`
}

type notifyResponse struct {
	Delivered bool `json:"delivered"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.AccountID == 0 || req.Kind == "" {
		http.Error(w, "account_id and kind are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	account, err := s.store.GetAccountByID(ctx, req.AccountID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Notification lookup failed",
			"account_id", req.AccountID, "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if account == nil {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}

	var chatID int64
	if account.ChatID.Valid {
		chatID = account.ChatID.Int64
	}

	payload := notify.Payload{
		Amount:   req.Amount,
		Currency: req.Currency,
		Game:     req.Game,
		IP:       req.IP,
		Device:   req.Device,
		Title:    req.Title,
		Body:     req.Body,
	}

	delivered := s.dispatcher.Send(ctx, chatID, notify.Kind(req.Kind), payload)

	// The outbound attempt is recorded regardless of delivery so the account
	// history stays complete even while the chat is unlinked or the bot is down.
	now := time.Now().UTC()
	if err := s.store.InsertNotification(ctx, &database.Notification{
		AccountID: req.AccountID,
		Kind:      req.Kind,
		Body:      notify.Render(notify.Kind(req.Kind), payload, now),
		CreatedAt: now,
	}); err != nil {
		s.logger.WarnContext(ctx, "Failed to record notification",
			"account_id", req.AccountID, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(notifyResponse{Delivered: delivered})
}
