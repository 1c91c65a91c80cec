// Package httpapi exposes the assistant pipeline over HTTP. Handlers only decode, validate
// and encode; all behavior lives in the assistant package.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/theimaginaryfoundation/jarvis/assistant"
	"github.com/theimaginaryfoundation/jarvis/logging"
	"github.com/theimaginaryfoundation/jarvis/metrics"
)

// Service is the part of *assistant.Orchestrator the routes use.
type Service interface {
	Process(ctx context.Context, req assistant.Request) (assistant.Response, error)
	Classify(ctx context.Context, text string) (assistant.Classification, error)
	PlayForEmotion(ctx context.Context, text string) (assistant.Classification, assistant.MusicResult, error)
	PlaySong(ctx context.Context, query string) (assistant.PlaybackResult, error)
	Insights(ctx context.Context) (assistant.Insights, error)
	CorpusStats() assistant.CorpusStats
	RebuildLearning(ctx context.Context) (*assistant.PreferenceTable, error)
}

var _ Service = (*assistant.Orchestrator)(nil)

type Options struct {
	// RequestsPerMinute limits each client IP on the /v1 routes. Zero disables the limit.
	RequestsPerMinute int
	CORSOrigins       []string
	// RequestTimeout bounds each /v1 request. Zero means no bound beyond the server's.
	RequestTimeout time.Duration
	Log            *logging.Logger
}

type Server struct {
	svc      Service
	log      *logging.Logger
	validate *validator.Validate
}

// NewRouter builds the route tree.
func NewRouter(svc Service, opts Options) http.Handler {
	if opts.Log == nil {
		opts.Log = logging.Nop()
	}
	s := &Server{svc: svc, log: opts.Log.With("component", "http"), validate: validator.New()}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.accessLog)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         86400,
		}))
	}

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.RequestsPerMinute > 0 {
			r.Use(httprate.Limit(opts.RequestsPerMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		if opts.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(opts.RequestTimeout))
		}
		r.Post("/interactions", s.interactions)
		r.Post("/mood/analyze", s.analyzeMood)
		r.Post("/music/from-emotion", s.musicFromEmotion)
		r.Post("/music/play-song", s.playSong)
		r.Get("/insights", s.insights)
		r.Get("/corpus/stats", s.corpusStats)
		r.Post("/learning/rebuild", s.rebuildLearning)
	})
	return r
}

// accessLog logs each request and counts it by route pattern and status code.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.log.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}
