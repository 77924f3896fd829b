package portfolio

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/matzehuels/masonry/pkg/cache"
	"github.com/matzehuels/masonry/pkg/columns"
	"github.com/matzehuels/masonry/pkg/distribute"
	"github.com/matzehuels/masonry/pkg/errors"
	"github.com/matzehuels/masonry/pkg/feed"
	"github.com/matzehuels/masonry/pkg/masonry"
	"github.com/matzehuels/masonry/pkg/observability"
)

// Listing limits.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Pagination shapes accepted by the shape query parameter of
// /api/projects.
const (
	ShapePagination = "pagination"
	ShapeTotal      = "total"
	ShapeMeta       = "meta"
	ShapeNone       = "none"
)

// Options configures a [Server].
type Options struct {
	// Config holds the layout defaults for /api/layout.
	Config masonry.Config

	// Cache stores rendered /api/layout responses. Nil disables caching.
	Cache cache.Cache
	Keyer cache.Keyer

	// AllowedOrigins for CORS. Empty allows local development origins.
	AllowedOrigins []string

	Logger *log.Logger
}

// Server holds the HTTP server dependencies
type Server struct {
	store  *Store
	opts   Options
	logger *log.Logger
	router chi.Router
}

// New creates a new API server
func New(store *Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewNullCache()
	}
	if opts.Keyer == nil {
		opts.Keyer = cache.NewDefaultKeyer()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	if opts.Config.PageSize == 0 {
		opts.Config = masonry.DefaultConfig()
	}

	s := &Server{
		store:  store,
		opts:   opts,
		logger: opts.Logger,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Cache"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/projects", s.handleListProjects)
		r.Get("/projects/{id}", s.handleGetProject)
		r.Get("/layout", s.handleLayout)
	})

	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

// --- Projects ---

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), 1, 1, 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	limit, err := intParam(q.Get("limit"), DefaultLimit, 1, MaxLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, "limit must be between 1 and 100")
		return
	}
	shape := q.Get("shape")
	if shape == "" {
		shape = ShapePagination
	}
	if shape != ShapePagination && shape != ShapeTotal && shape != ShapeMeta && shape != ShapeNone {
		respondError(w, http.StatusBadRequest, "shape must be one of: pagination, total, meta, none")
		return
	}
	tag := q.Get("tag")

	projects, err := s.store.ListProjects(r.Context(), (page-1)*limit, limit, tag)
	if err != nil {
		s.logger.Error("list projects", "err", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch projects")
		return
	}
	total, err := s.store.CountProjects(r.Context(), tag)
	if err != nil {
		s.logger.Error("count projects", "err", err)
		respondError(w, http.StatusInternalServerError, "Failed to count projects")
		return
	}

	pages := (total + limit - 1) / limit
	switch shape {
	case ShapePagination:
		respondJSON(w, http.StatusOK, map[string]any{
			"items": projects,
			"pagination": feed.Meta{
				Page:        page,
				TotalPages:  pages,
				TotalItems:  total,
				HasNextPage: page < pages,
				HasPrevPage: page > 1,
			},
		})
	case ShapeTotal:
		respondJSON(w, http.StatusOK, map[string]any{"data": projects, "total": total})
	case ShapeMeta:
		respondJSON(w, http.StatusOK, map[string]any{
			"results": projects,
			"meta":    map[string]any{"totalCount": total, "lastPage": pages, "currentPage": page},
		})
	default:
		respondJSON(w, http.StatusOK, projects)
	}
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	project, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch project")
		return
	}
	if project == nil {
		respondError(w, http.StatusNotFound, "Project not found")
		return
	}
	respondJSON(w, http.StatusOK, project)
}

// --- Layout ---

// LayoutResponse is the body of /api/layout.
type LayoutResponse struct {
	Width       float64             `json:"width"`
	ColumnCount int                 `json:"columnCount"`
	Strategy    distribute.Strategy `json:"strategy"`
	Columns     [][]feed.Item       `json:"columns"`
	Range       feed.PageRange      `json:"range"`
	Meta        feed.Meta           `json:"meta"`
	Items       int                 `json:"items"`
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	key := s.opts.Keyer.HTTPKey("layout", q.Encode())

	if data, hit, err := s.opts.Cache.Get(ctx, key); err == nil && hit {
		observability.Cache().OnCacheHit(ctx, "http")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "HIT")
		w.Write(data)
		return
	}
	observability.Cache().OnCacheMiss(ctx, "http")

	width, err := strconv.ParseFloat(q.Get("width"), 64)
	if err != nil || width <= 0 {
		respondError(w, http.StatusBadRequest, "width must be a positive number")
		return
	}

	cfg := s.opts.Config
	if v := q.Get("strategy"); v != "" {
		strategy, err := distribute.ParseStrategy(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, errors.UserMessage(err))
			return
		}
		cfg.DistributionStrategy = strategy
	}
	if v := q.Get("columns"); v != "" {
		spec, err := columns.ParseSpec(v)
		if err != nil {
			s.logger.Warn("ignoring invalid column spec entries", "columns", v, "err", errors.UserMessage(err))
		}
		cfg.Columns = spec
		cfg.MinColumnWidth = 0
	}
	if v := q.Get("limit"); v != "" {
		limit, err := intParam(v, DefaultLimit, 1, MaxLimit)
		if err != nil {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		cfg.PageSize = limit
	}
	if v := q.Get("tag"); v != "" {
		cfg.Filters = map[string]string{"tag": v}
	}
	if err := cfg.Prepare(s.logger); err != nil {
		respondError(w, http.StatusBadRequest, errors.UserMessage(err))
		return
	}
	pages, err := intParam(q.Get("pages"), 1, 1, cfg.MaxPageGap+1)
	if err != nil {
		respondError(w, http.StatusBadRequest, "pages must be between 1 and max_page_gap+1")
		return
	}

	state, err := s.compose(ctx, cfg, width, pages)
	if err != nil {
		s.logger.Error("compose layout", "err", err)
		respondError(w, http.StatusBadGateway, "Failed to load projects")
		return
	}

	data, err := json.Marshal(LayoutResponse{
		Width:       state.Width,
		ColumnCount: state.ColumnCount,
		Strategy:    cfg.DistributionStrategy,
		Columns:     state.Columns,
		Range:       state.Range,
		Meta:        state.Meta,
		Items:       len(state.Items),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to encode layout")
		return
	}
	if err := s.opts.Cache.Set(ctx, key, data, cache.TTLHTTP); err != nil {
		s.logger.Warn("cache layout", "err", err)
	} else {
		observability.Cache().OnCacheSet(ctx, "http", len(data))
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "MISS")
	w.Write(data)
}

// compose loads pages 1..pages from the store and lays them out.
func (s *Server) compose(ctx context.Context, cfg masonry.Config, width float64, pages int) (masonry.State, error) {
	opts := cfg.SourceOptions()
	opts.Logger = s.logger
	src, err := feed.NewSource(s.store, opts)
	if err != nil {
		return masonry.State{}, err
	}
	defer src.Dispose()

	if _, err := src.FetchInitial(ctx, 1); err != nil {
		return masonry.State{}, err
	}
	for range pages - 1 {
		outcome, err := src.FetchForward(ctx)
		if err != nil {
			return masonry.State{}, err
		}
		if outcome != feed.Applied {
			break
		}
	}
	return masonry.Compose(cfg, width, src.Snapshot()), nil
}

// --- Helpers ---

// intParam parses an optional integer query value. A zero hi means no
// upper bound.
func intParam(v string, def, lo, hi int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < lo || (hi > 0 && n > hi) {
		return 0, errors.New(errors.ErrCodeInvalidInput, "%d out of range", n)
	}
	return n, nil
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
