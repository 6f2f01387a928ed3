package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/kalambet/parlebot/internal/bot"
)

const maxRequestBodySize = 1 << 20 // 1MB

const msgInvalidPayload = "Payload invalide"

// Dispatcher answers one chat message.
type Dispatcher interface {
	Handle(ctx context.Context, message string) bot.Response
}

// Deps holds the HTTP surface dependencies. Admin routes are mounted only
// when both Store and Token are set.
type Deps struct {
	Bot            Dispatcher
	Store          AdminStore
	Token          string
	AllowedOrigins []string
}

// NewHandler returns the parlebot HTTP API: the public chat endpoint, a
// health probe and the bearer-protected admin routes.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", handleHealth)
	r.Post("/chat", handleChat(deps.Bot))

	if deps.Store != nil && deps.Token != "" {
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(deps.Token))
			mountAdmin(r, deps.Store)
		})
	}

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type chatRequest struct {
	Message *string `json:"message"`
}

func handleChat(d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Debug("rejecting chat payload", "error", err)
			httpError(w, http.StatusBadRequest, msgInvalidPayload)
			return
		}
		if req.Message == nil {
			httpError(w, http.StatusBadRequest, msgInvalidPayload)
			return
		}

		resp := d.Handle(r.Context(), *req.Message)
		writeJSON(w, statusFor(resp), resp)
	}
}

// statusFor maps a dispatcher response to an HTTP status code.
func statusFor(resp bot.Response) int {
	if !resp.IsError() {
		return http.StatusOK
	}
	switch resp.Kind {
	case bot.KindValidation:
		return http.StatusBadRequest
	case bot.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]string{"error": fmt.Sprintf(format, args...)})
}
