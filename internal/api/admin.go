package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/parlebot/internal/storage"
)

// AdminStore is the read side of the store exposed to operators.
type AdminStore interface {
	AllFacts(ctx context.Context) (map[string]string, error)
	ListFacts(ctx context.Context, limit, offset int) ([]storage.Fact, error)
	CountFacts(ctx context.Context) (int, error)
	ListMessages(ctx context.Context, limit, offset int) ([]storage.Message, error)
	ListMailLogs(ctx context.Context, limit, offset int) ([]storage.MailLog, error)
}

// BearerAuth rejects requests whose Authorization header does not carry
// token, answering with a Bearer challenge.
func BearerAuth(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				slog.Debug("admin request rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
				w.Header().Set("WWW-Authenticate", `Bearer realm="parlebot"`)
				httpError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func mountAdmin(r chi.Router, store AdminStore) {
	r.Get("/facts", handleAllFacts(store))
	r.Get("/facts/list", handleListFacts(store))
	r.Get("/messages", handleListMessages(store))
	r.Get("/mail-logs", handleListMailLogs(store))
}

func handleAllFacts(store AdminStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		facts, err := store.AllFacts(r.Context())
		if err != nil {
			slog.Error("admin: loading facts failed", "path", r.URL.Path, "error", err)
			httpError(w, http.StatusInternalServerError, "failed to load facts")
			return
		}
		if facts == nil {
			facts = map[string]string{}
		}
		writeJSON(w, http.StatusOK, facts)
	}
}

func handleListFacts(store AdminStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		facts, err := store.ListFacts(r.Context(), limit, offset)
		if err != nil {
			slog.Error("admin: listing facts failed", "path", r.URL.Path, "error", err)
			httpError(w, http.StatusInternalServerError, "failed to list facts")
			return
		}
		total, err := store.CountFacts(r.Context())
		if err != nil {
			slog.Error("admin: counting facts failed", "path", r.URL.Path, "error", err)
			httpError(w, http.StatusInternalServerError, "failed to count facts")
			return
		}

		if facts == nil {
			facts = []storage.Fact{}
		}

		w.Header().Set("X-Total-Count", strconv.Itoa(total))
		writeJSON(w, http.StatusOK, facts)
	}
}

func handleListMessages(store AdminStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		msgs, err := store.ListMessages(r.Context(), limit, offset)
		if err != nil {
			slog.Error("admin: listing messages failed", "path", r.URL.Path, "error", err)
			httpError(w, http.StatusInternalServerError, "failed to list messages")
			return
		}

		if msgs == nil {
			msgs = []storage.Message{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleListMailLogs(store AdminStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		logs, err := store.ListMailLogs(r.Context(), limit, offset)
		if err != nil {
			slog.Error("admin: listing mail logs failed", "path", r.URL.Path, "error", err)
			httpError(w, http.StatusInternalServerError, "failed to list mail logs")
			return
		}

		if logs == nil {
			logs = []storage.MailLog{}
		}
		writeJSON(w, http.StatusOK, logs)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
