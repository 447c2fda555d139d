package workloadsink

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gymapp/main-service/internal/platform/auth"
	"github.com/gymapp/main-service/internal/platform/txid"
)

const maxPayload = 64 << 10

// TokenParser verifies service tokens on inbound calls.
type TokenParser interface {
	Parse(token string) (auth.ServiceClaims, error)
}

type Handler struct {
	Service *Service
	Tokens  TokenParser
}

func NewHandler(service *Service, tokens TokenParser) *Handler {
	return &Handler{Service: service, Tokens: tokens}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(txid.Middleware)
	r.Use(middleware.Recoverer)
	r.With(h.authMiddleware).Post("/api/workload/update", h.handleUpdate)
	return r
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := h.Tokens.Parse(token); err != nil {
			h.Service.Logger.WarnContext(r.Context(), "rejected service token", "error", err)
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayload))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	event, err := Decode(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = h.Service.Handle(r.Context(), Received{
		Event:         event,
		Source:        SourceHTTP,
		TransactionID: txid.Current(r.Context()),
	})
	if err != nil {
		h.Service.Logger.ErrorContext(r.Context(), "workload update failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
