package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/retainhq/retain/internal/models"
	"github.com/retainhq/retain/internal/query"
	"github.com/retainhq/retain/internal/resolver"
	"github.com/retainhq/retain/internal/review"
	"github.com/retainhq/retain/internal/sm2"
	"github.com/retainhq/retain/internal/store"
)

// Server is an HTTP API server exposing the core operations to dashboard
// and ingestion clients. It is a thin consumer: all semantics live in the
// resolver, review manager and querier.
type Server struct {
	store     store.Store
	resolver  *resolver.Resolver
	reviews   *review.Manager
	querier   *query.Querier
	mastery   models.MasteryThresholds
	logger    *slog.Logger
	authToken string // empty = no auth required
}

// NewServer creates a new Server with the given dependencies.
func NewServer(st store.Store, res *resolver.Resolver, rev *review.Manager, q *query.Querier, mastery models.MasteryThresholds, logger *slog.Logger, authToken string) *Server {
	return &Server{
		store:     st,
		resolver:  res,
		reviews:   rev,
		querier:   q,
		mastery:   mastery,
		logger:    logger,
		authToken: authToken,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check, no auth required.
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /v1/signals", s.auth(s.handleSignal))
	mux.HandleFunc("POST /v1/items", s.auth(s.handleCreateItem))
	mux.HandleFunc("POST /v1/reviews", s.auth(s.handleReview))
	mux.HandleFunc("GET /v1/due", s.auth(s.handleDue))
	mux.HandleFunc("GET /v1/stats", s.auth(s.handleStats))
	mux.HandleFunc("GET /v1/items/{id}", s.auth(s.handleGetItem))
	mux.HandleFunc("GET /v1/items/{id}/history", s.auth(s.handleItemHistory))
	mux.HandleFunc("POST /v1/items/{id}/archive", s.auth(s.handleArchive))

	return mux
}

// --- middleware ---

// auth wraps a handler with Bearer token authentication when authToken is set.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// signalRequest is the body accepted by POST /v1/signals: the contract with
// upstream signal producers (OCR, audio, webcam pipelines).
type signalRequest struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"` // zero = server time
}

// signalResponse is returned by POST /v1/signals.
type signalResponse struct {
	ItemID   string `json:"item_id,omitempty"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}
	now := req.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := s.resolver.Resolve(r.Context(), req.Text, req.Confidence, req.Source, now)
	if err != nil {
		if isRejection(err) {
			// A rejected signal is a valid outcome, not a server error.
			s.writeJSON(w, http.StatusOK, signalResponse{Accepted: false, Reason: err.Error()})
			return
		}
		s.serverError(w, "resolve signal", err)
		return
	}

	s.writeJSON(w, http.StatusOK, signalResponse{ItemID: id, Accepted: true})
}

// createItemRequest is the body accepted by POST /v1/items.
type createItemRequest struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Tags     []string `json:"tags"`
	Priority int      `json:"priority"`
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" || req.Answer == "" {
		s.writeError(w, http.StatusBadRequest, "question and answer are required")
		return
	}

	item, err := s.reviews.AddFlashcard(r.Context(), uuid.NewString(), req.Question, req.Answer, req.Tags, req.Priority, time.Now().UTC())
	if err != nil {
		s.serverError(w, "create flashcard", err)
		return
	}

	s.writeJSON(w, http.StatusCreated, s.itemView(item))
}

// reviewRequest is the body accepted by POST /v1/reviews.
type reviewRequest struct {
	ItemID  string `json:"item_id"`
	Quality *int   `json:"quality"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ItemID == "" {
		s.writeError(w, http.StatusBadRequest, "item_id is required")
		return
	}
	if req.Quality == nil {
		s.writeError(w, http.StatusBadRequest, "quality is required")
		return
	}

	result, err := s.reviews.Submit(r.Context(), req.ItemID, sm2.Quality(*req.Quality), time.Now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, sm2.ErrInvalidQuality):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "item not found")
		case errors.Is(err, store.ErrBusy):
			s.writeError(w, http.StatusConflict, "item is busy, retry")
		default:
			s.serverError(w, "submit review", err)
		}
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDue(w http.ResponseWriter, r *http.Request) {
	limit := -1 // querier default
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	items, err := s.querier.Due(r.Context(), time.Now().UTC(), limit)
	if err != nil {
		s.serverError(w, "due query", err)
		return
	}

	views := make([]itemView, 0, len(items))
	for i := range items {
		views = append(views, s.itemView(&items[i]))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.querier.Stats(r.Context(), time.Now().UTC())
	if err != nil {
		s.serverError(w, "stats query", err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	item, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "item not found")
			return
		}
		s.serverError(w, "get item", err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.itemView(item))
}

func (s *Server) handleItemHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "item not found")
			return
		}
		s.serverError(w, "get item", err)
		return
	}

	entries, err := s.store.HistoryForItem(r.Context(), id, 0)
	if err != nil {
		s.serverError(w, "item history", err)
		return
	}
	if entries == nil {
		entries = []models.ReviewHistoryEntry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// archiveRequest is the body accepted by POST /v1/items/{id}/archive.
type archiveRequest struct {
	Archived bool `json:"archived"`
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req archiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := s.reviews.SetArchived(r.Context(), id, req.Archived, time.Now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "item not found")
		case errors.Is(err, store.ErrBusy):
			s.writeError(w, http.StatusConflict, "item is busy, retry")
		default:
			s.serverError(w, "archive item", err)
		}
		return
	}

	s.writeJSON(w, http.StatusOK, s.itemView(item))
}

// --- helpers ---

// itemView decorates an Item with its derived status for display.
type itemView struct {
	*models.Item
	Status models.ItemStatus `json:"status"`
}

func (s *Server) itemView(item *models.Item) itemView {
	return itemView{Item: item, Status: item.Status(s.mastery)}
}

// isRejection reports whether err is one of the resolver's validation
// rejections, which map to a negative outcome rather than a failure.
func isRejection(err error) bool {
	return errors.Is(err, resolver.ErrEmptyKey) ||
		errors.Is(err, resolver.ErrLowConfidence) ||
		errors.Is(err, resolver.ErrBadConfidence) ||
		errors.Is(err, resolver.ErrKeyLength) ||
		errors.Is(err, resolver.ErrDenylisted)
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("request failed", "op", op, "error", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(v); encErr != nil {
		s.logger.Error("failed to encode response", "error", encErr)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Shutdown gracefully shuts down an http.Server with the given timeout.
// This is a convenience helper used by the serve command.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
