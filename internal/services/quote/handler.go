package quote

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gofrs/uuid/v5"

	"github.com/cornjacket/quote-service/internal/shared/apperr"
	model "github.com/cornjacket/quote-service/internal/shared/domain/quote"
)

// IdempotencyKeyHeader lets clients retry POST /quotes safely.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxBodyBytes = 1 << 20

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler handles HTTP requests for the quote service.
type Handler struct {
	service *Service
	db      Pinger
	logger  *slog.Logger
}

// NewHandler creates a new quote HTTP handler.
func NewHandler(service *Service, db Pinger, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		db:      db,
		logger:  logger.With("handler", "quote"),
	}
}

// VersionRequest is the body of the confirm and cancel endpoints.
type VersionRequest struct {
	ExpectedVersion *int64 `json:"expectedVersion"`
}

// HandleCreate handles POST /quotes
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateQuoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	resp, err := h.service.CreateQuote(r.Context(), &req, r.Header.Get(IdempotencyKeyHeader))
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Location", "/quotes/"+resp.QuoteID)
	h.writeJSON(w, http.StatusAccepted, resp)
}

// HandleGet handles GET /quotes/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	q, err := h.service.GetQuote(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, q)
}

// HandleGetByNumber handles GET /quotes/by-number/{number}
func (h *Handler) HandleGetByNumber(w http.ResponseWriter, r *http.Request) {
	q, err := h.service.GetQuoteByNumber(r.Context(), r.PathValue("number"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, q)
}

// HandleConfirm handles POST /quotes/{id}/confirm
func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	h.handleVersioned(w, r, h.service.ConfirmQuote)
}

// HandleCancel handles POST /quotes/{id}/cancel
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.handleVersioned(w, r, h.service.CancelQuote)
}

func (h *Handler) handleVersioned(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, id uuid.UUID, expectedVersion int64) (*model.Quote, error),
) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req VersionRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.ExpectedVersion == nil {
		h.writeError(w, apperr.Validation("expectedVersion is required"))
		return
	}

	q, err := op(r.Context(), id, *req.ExpectedVersion)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, q)
}

// HandleList handles GET /quotes?status=&customerId=&limit=&offset=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := model.ListFilter{
		Status:     model.Status(query.Get("status")),
		CustomerID: query.Get("customerId"),
	}

	var err error
	if filter.Limit, err = intParam(query.Get("limit")); err != nil {
		h.writeError(w, apperr.Validation("limit must be an integer"))
		return
	}
	if filter.Offset, err = intParam(query.Get("offset")); err != nil {
		h.writeError(w, apperr.Validation("offset must be an integer"))
		return
	}

	resp, err := h.service.ListQuotes(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleStats handles GET /quotes/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// HandleHealth handles GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.logger.Warn("health check failed", "error", err)
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.FromString(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("quote id must be a UUID")
	}
	return id, nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("invalid JSON: " + err.Error())
	}
	return nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus()
		if status >= http.StatusInternalServerError {
			h.logger.Error("request failed", "error", err)
		}
		h.writeJSON(w, status, errorResponse{
			Error:   appErr.Kind.String(),
			Message: appErr.Message,
			Details: appErr.Details,
		})
		return
	}

	h.logger.Error("unhandled error", "error", err)
	h.writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error:   apperr.KindInternal.String(),
		Message: "internal error",
	})
}
