package quote

import (
	"net/http"

	"github.com/cornjacket/quote-service/internal/shared/httpx"
)

// routePrefixes are the mount points of the quote API.
var routePrefixes = []string{"/quotes", "/api/v1/quotes"}

// RegisterRoutes registers the quote service routes on the provided mux.
// limiter guards quote creation and may be nil.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, limiter *httpx.IPRateLimiter) {
	create := h.HandleCreate
	if limiter != nil {
		create = limiter.Limit(create)
	}

	for _, prefix := range routePrefixes {
		mux.HandleFunc("POST "+prefix, create)
		mux.HandleFunc("GET "+prefix, h.HandleList)
		mux.HandleFunc("GET "+prefix+"/stats", h.HandleStats)
		mux.HandleFunc("GET "+prefix+"/{id}", h.HandleGet)
		mux.HandleFunc("GET "+prefix+"/by-number/{number}", h.HandleGetByNumber)
		mux.HandleFunc("POST "+prefix+"/{id}/confirm", h.HandleConfirm)
		mux.HandleFunc("POST "+prefix+"/{id}/cancel", h.HandleCancel)
	}
	mux.HandleFunc("GET /health", h.HandleHealth)
}
