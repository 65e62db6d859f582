package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/watchlist-screen/internal/model"
	"github.com/sells-group/watchlist-screen/internal/screening"
	"github.com/sells-group/watchlist-screen/internal/store"
)

const maxRequestBody = 1 << 20

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the screening HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if secs := cfg.Reference.ReloadIntervalSecs; secs > 0 {
			go a.snaps.Watch(ctx, time.Duration(secs)*time.Second)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(a),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the API routes over a.
func newRouter(a *app) http.Handler {
	sc := a.cfg.Server

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: sc.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", a.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		if sc.RateLimitRPS > 0 {
			r.Use(rateLimit(rate.NewLimiter(rate.Limit(sc.RateLimitRPS), max(sc.RateLimitBurst, 1))))
		}
		if sc.RequestTimeoutSecs > 0 {
			r.Use(middleware.Timeout(time.Duration(sc.RequestTimeoutSecs) * time.Second))
		}
		r.Post("/screen", a.handleScreen)
		r.Post("/reload", a.handleReload)
		r.Get("/stats", a.handleStats)
		r.Get("/screenings", a.handleListScreenings)
		r.Get("/screenings/{requestID}", a.handleGetScreening)
	})

	return r
}

// rateLimit rejects requests beyond the limiter's budget with 429.
func rateLimit(l *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s := a.snaps.Current(); s != nil {
		body["snapshot_version"] = s.Version
		body["entities"] = s.Len()
	} else {
		body["status"] = "degraded"
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *app) handleScreen(w http.ResponseWriter, r *http.Request) {
	in, err := decodeScreenInput(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req := in.toRequest()
	if req.RequestID == "" {
		req.RequestID = r.Header.Get("X-Request-ID")
	}

	resp, err := a.screener.Screen(r.Context(), req)
	if err != nil {
		if errors.Is(err, screening.ErrEmptyRequest) {
			writeError(w, http.StatusBadRequest, "text or tokens are required")
			return
		}
		zap.L().Error("screen request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "screening failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *app) handleReload(w http.ResponseWriter, r *http.Request) {
	s, err := a.snaps.Reload(r.Context())
	if err != nil {
		zap.L().Error("snapshot reload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "reload failed; previous snapshot remains active")
		return
	}
	a.fuzzy.Purge()
	zap.L().Info("snapshot reloaded", zap.Uint64("version", s.Version), zap.Int("entities", s.Len()))
	writeJSON(w, http.StatusOK, s.Stats())
}

// statsResponse reports snapshot, pipeline and cache state.
type statsResponse struct {
	Snapshot      any               `json:"snapshot"`
	Reloads       int64             `json:"reloads"`
	FailedReloads int64             `json:"failed_reloads"`
	Screening     any               `json:"screening"`
	FuzzyCache    any               `json:"fuzzy_cache"`
	Breakers      map[string]string `json:"breakers"`
}

func (a *app) collectStats() statsResponse {
	reloads, failed := a.snaps.Counters()
	resp := statsResponse{
		Reloads:       reloads,
		FailedReloads: failed,
		Screening:     a.screener.Metrics().Snapshot(),
		FuzzyCache:    a.fuzzy.Stats(),
		Breakers:      a.fuser.Breakers().States(),
	}
	if s := a.snaps.Current(); s != nil {
		resp.Snapshot = s.Stats()
	}
	return resp
}

func (a *app) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.collectStats())
}

func (a *app) handleListScreenings(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusNotFound, "audit log disabled")
		return
	}
	filter, err := parseScreeningFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := a.store.ListScreenings(r.Context(), filter)
	if err != nil {
		zap.L().Error("list screenings failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list screenings failed")
		return
	}
	if list == nil {
		list = []store.Screening{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *app) handleGetScreening(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusNotFound, "audit log disabled")
		return
	}
	s, err := a.store.GetScreening(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "screening not found")
			return
		}
		zap.L().Error("get screening failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get screening failed")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// parseScreeningFilter reads risk, review_required, since (RFC 3339),
// limit and offset query parameters.
func parseScreeningFilter(r *http.Request) (store.ScreeningFilter, error) {
	q := r.URL.Query()
	var f store.ScreeningFilter

	if v := q.Get("risk"); v != "" {
		switch risk := model.RiskLevel(v); risk {
		case model.RiskSkip, model.RiskLow, model.RiskMedium, model.RiskHigh:
			f.Risk = risk
		default:
			return f, eris.Errorf("invalid risk %q", v)
		}
	}
	if v := q.Get("review_required"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, eris.Errorf("invalid review_required %q", v)
		}
		f.ReviewRequired = &b
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, eris.Errorf("invalid since %q", v)
		}
		f.Since = t
	}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return f, eris.Errorf("invalid %s %q", name, v)
			}
			*dst = n
		}
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
