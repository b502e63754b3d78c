// Package httpapi serves the bot's status endpoints: health, pending approvals,
// usage stats and a manual poll trigger.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quailyquaily/slackdatabot/delivery"
	"github.com/quailyquaily/slackdatabot/learning"
)

const maxStatsDays = 365

type PendingLister interface {
	List() []delivery.PendingApproval
}

// PendingFunc adapts a function to PendingLister.
type PendingFunc func() []delivery.PendingApproval

func (f PendingFunc) List() []delivery.PendingApproval { return f() }

type StatsReader interface {
	Stats(ctx context.Context, days int) (learning.Stats, error)
}

type RoutesOptions struct {
	AuthToken string
	Pending   PendingLister
	Stats     StatsReader
	// Status adds extra fields to /health, such as scheduler state.
	Status func() map[string]any
	// Trigger requests an immediate poll cycle.
	Trigger func() bool
	Now     func() time.Time
}

type pendingItem struct {
	ID           string         `json:"id"`
	Key          string         `json:"key"`
	QualityScore int            `json:"quality_score"`
	QualityTotal int            `json:"quality_total"`
	CreatedAt    time.Time      `json:"created_at"`
	Message      map[string]any `json:"message"`
}

func RegisterRoutes(mux *http.ServeMux, opts RoutesOptions) {
	if mux == nil {
		return
	}
	authToken := strings.TrimSpace(opts.AuthToken)
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
			return
		}
		payload := map[string]any{
			"ok":   true,
			"time": now().Format(time.RFC3339Nano),
		}
		if opts.Status != nil {
			for k, v := range opts.Status() {
				payload[k] = v
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		_ = json.NewEncoder(w).Encode(payload)
	})

	mux.HandleFunc("/pending", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		if !checkAuth(r, authToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if opts.Pending == nil {
			http.Error(w, "approvals are unavailable", http.StatusServiceUnavailable)
			return
		}
		current := now()
		items := []pendingItem{}
		for _, p := range opts.Pending.List() {
			item := pendingItem{
				ID:           p.ID,
				QualityScore: p.QualityScore,
				QualityTotal: p.QualityTotal,
				CreatedAt:    p.CreatedAt,
			}
			if p.Message != nil {
				item.Key = p.Message.ConversationKey()
				item.Message = p.Message.Summary(current)
			}
			items = append(items, item)
		}
		writeJSON(w, map[string]any{"items": items})
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		if !checkAuth(r, authToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if opts.Stats == nil {
			http.Error(w, "stats are unavailable", http.StatusServiceUnavailable)
			return
		}
		days := learning.DefaultStatsDays
		if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 || parsed > maxStatsDays {
				http.Error(w, "invalid days", http.StatusBadRequest)
				return
			}
			days = parsed
		}
		stats, err := opts.Stats.Stats(r.Context(), days)
		if err != nil {
			http.Error(w, strings.TrimSpace(err.Error()), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, stats)
	})

	mux.HandleFunc("/poll", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		if !checkAuth(r, authToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if opts.Trigger == nil {
			http.Error(w, "poll trigger is unavailable", http.StatusServiceUnavailable)
			return
		}
		accepted := opts.Trigger()
		w.Header().Set("Content-Type", "application/json")
		if accepted {
			w.WriteHeader(http.StatusAccepted)
		} else {
			w.WriteHeader(http.StatusConflict)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"accepted": accepted})
	})
}

type ServerOptions struct {
	Listen string
	Routes RoutesOptions
}

// StartServer listens on opts.Listen and shuts down when ctx ends.
func StartServer(ctx context.Context, logger *slog.Logger, opts ServerOptions) (*http.Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	listen := strings.TrimSpace(opts.Listen)
	if listen == "" {
		return nil, errors.New("empty server listen address")
	}

	mux := http.NewServeMux()
	RegisterRoutes(mux, opts.Routes)

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("httpapi_server_error", "addr", srv.Addr, "error", err.Error())
		}
	}()

	if strings.TrimSpace(opts.Routes.AuthToken) == "" {
		logger.Warn("httpapi_auth_token_missing", "addr", srv.Addr)
	}
	logger.Info("httpapi_server_start", "addr", srv.Addr)
	return srv, nil
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

// checkAuth denies everything when no token is configured.
func checkAuth(r *http.Request, token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	got := strings.TrimSpace(r.Header.Get("Authorization"))
	want := "Bearer " + token
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
