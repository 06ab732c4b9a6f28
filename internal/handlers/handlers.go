package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Simon111302/movies/internal/assets"
	"github.com/Simon111302/movies/internal/metrics"
	"github.com/Simon111302/movies/internal/player"
	"github.com/Simon111302/movies/internal/sanitize"
	"github.com/Simon111302/movies/internal/types"
	"github.com/Simon111302/movies/pkg/version"
)

// PlayerController is the playback surface the API drives.
// *player.Controller satisfies it.
type PlayerController interface {
	Open(ctx context.Context, movieID int64, provider, title string) (types.PlayerStatus, error)
	SwitchProvider(ctx context.Context, provider string) (types.PlayerStatus, error)
	Close(ctx context.Context) error
	Status() types.PlayerStatus
	Providers() []string
}

// Catalog is the movie metadata surface. *metadata.Client satisfies it.
type Catalog interface {
	Trending(ctx context.Context, page int) ([]types.Movie, error)
	Popular(ctx context.Context, page int) ([]types.Movie, error)
	Upcoming(ctx context.Context, page int) ([]types.Movie, error)
	Search(ctx context.Context, query string, page int) ([]types.Movie, error)
	Discover(ctx context.Context, genreID, page int) ([]types.Movie, error)
	Details(ctx context.Context, movieID int64) (types.Movie, error)
	WatchProviders(ctx context.Context, movieID int64) ([]types.WatchProvider, error)
}

// Handler handles all movies API requests.
type Handler struct {
	playerCtl PlayerController
	catalog   Catalog
	registry  *player.Registry
	rules     sanitize.RuleSource
}

// New creates a new Handler.
func New(playerCtl PlayerController, catalog Catalog, registry *player.Registry, rules sanitize.RuleSource) *Handler {
	return &Handler{
		playerCtl: playerCtl,
		catalog:   catalog,
		registry:  registry,
		rules:     rules,
	}
}

// ServeHTTP routes requests by path. Cross-cutting concerns (recovery,
// logging, rate limiting, CORS) are layered on as middleware in main.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/", "/index.html":
		if r.Method != http.MethodGet {
			h.HandleMethodNotAllowed(w, r)
			return
		}
		h.HandleIndex(w, r)
	case "/health":
		if r.Method != http.MethodGet {
			h.HandleMethodNotAllowed(w, r)
			return
		}
		h.HandleHealth(w, r)
	case "/v1":
		if r.Method != http.MethodPost {
			h.HandleMethodNotAllowed(w, r)
			return
		}
		h.HandleAPI(w, r)
	case "/player/host":
		if r.Method != http.MethodGet {
			h.HandleMethodNotAllowed(w, r)
			return
		}
		h.HandleHostPage(w, r)
	case "/debug/audit":
		if r.Method != http.MethodPost {
			h.HandleMethodNotAllowed(w, r)
			return
		}
		h.HandleAudit(w, r)
	default:
		h.HandleNotFound(w, r)
	}
}

// HandleHealth handles the /health endpoint.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	resp := types.Response{
		Status:    types.StatusOK,
		Message:   "movies is ready",
		StartTime: startTime.UnixMilli(),
		EndTime:   time.Now().UnixMilli(),
		Version:   version.Full(),
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// HandleAPI handles the main command endpoint.
func (h *Handler) HandleAPI(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	// Limit request body size to prevent memory exhaustion
	const maxBodySize = 64 << 10 // 64KB, command envelopes are tiny
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	buf := getBuffer()
	defer putBuffer(buf)

	if _, err := io.Copy(buf, r.Body); err != nil {
		log.Warn().Err(err).Msg("Failed to read request body")
		h.writeError(w, "Failed to read request", startTime)
		return
	}

	var req types.Request
	if err := json.Unmarshal(buf.Bytes(), &req); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request")
		h.writeError(w, "Invalid JSON request", startTime)
		return
	}

	if err := req.Validate(); err != nil {
		h.writeError(w, err.Error(), startTime)
		return
	}

	log.Info().
		Str("cmd", req.Cmd).
		Int64("movie_id", req.MovieID).
		Str("provider", req.Provider).
		Msg("Request received")

	h.routeCommand(w, r, &req, startTime)
}

// HandleIndex serves the catalog front page.
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	tmpl, err := assets.GetTemplate("index.html")
	if err != nil {
		log.Error().Err(err).Msg("Failed to load index template")
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, map[string]string{
		"Version": assets.SanitizeVersion(version.Version),
	}); err != nil {
		log.Error().Err(err).Msg("Failed to render index template")
	}
}

// HandleHostPage serves the page that frames the provider embed. The
// controller navigates the guarded browser here; the iframe source is
// composed server-side from the validated provider registry, never from raw
// query input.
func (h *Handler) HandleHostPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	movieID, err := parseMovieID(q.Get("movie"))
	if err != nil {
		http.Error(w, "invalid movie id", http.StatusBadRequest)
		return
	}

	target, err := h.registry.Get(q.Get("provider"))
	if err != nil {
		http.Error(w, "unknown provider", http.StatusBadRequest)
		return
	}

	tmpl, tmplErr := assets.GetTemplate("player.html")
	if tmplErr != nil {
		log.Error().Err(tmplErr).Msg("Failed to load player template")
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, map[string]string{
		"Title":    q.Get("title"),
		"Provider": target.Name,
		"FrameURL": target.EmbedURL(movieID),
	}); err != nil {
		log.Error().Err(err).Msg("Failed to render player template")
	}
}

// HandleAudit runs the overlay predicate over posted HTML and reports what a
// live sweep would remove. Exists for tuning heuristics against captured
// pages.
func (h *Handler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	const maxBodySize = 4 << 20 // captured pages can be large
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	findings, err := sanitize.AuditHTML(r.Body, h.rules.Rules())
	if err != nil {
		http.Error(w, "could not parse HTML: "+err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if findings == nil {
		findings = []sanitize.Finding{}
	}
	if err := json.NewEncoder(w).Encode(findings); err != nil {
		log.Error().Err(err).Msg("Failed to encode audit response")
	}
}

// HandleMethodNotAllowed handles requests with unsupported HTTP methods.
func (h *Handler) HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeErrorWithStatus(w, http.StatusMethodNotAllowed, "Method not allowed", time.Now())
}

// HandleNotFound handles requests to unknown paths.
func (h *Handler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeErrorWithStatus(w, http.StatusNotFound, "Not found", time.Now())
}

// handlePlayerOpen resolves the title first so status responses can show it;
// a catalog miss is not fatal to playback.
func (h *Handler) handlePlayerOpen(w http.ResponseWriter, ctx context.Context, req *types.Request, startTime time.Time) {
	title := ""
	if movie, err := h.catalog.Details(ctx, req.MovieID); err == nil {
		title = movie.Title
	} else if !errors.Is(err, types.ErrMetadataNotFound) {
		log.Warn().Err(err).Int64("movie_id", req.MovieID).Msg("Title lookup failed, opening without title")
	}

	status, err := h.playerCtl.Open(ctx, req.MovieID, req.Provider, title)
	if err != nil {
		metrics.RecordCommandError(req.Cmd)
		h.writeError(w, playerErrorMessage(err), startTime)
		return
	}
	h.writePlayer(w, "Player opened", &status, startTime)
}

func (h *Handler) handlePlayerSwitch(w http.ResponseWriter, ctx context.Context, req *types.Request, startTime time.Time) {
	status, err := h.playerCtl.SwitchProvider(ctx, req.Provider)
	if err != nil {
		metrics.RecordCommandError(req.Cmd)
		h.writeError(w, playerErrorMessage(err), startTime)
		return
	}
	h.writePlayer(w, "Provider switched", &status, startTime)
}

func (h *Handler) handlePlayerClose(w http.ResponseWriter, ctx context.Context, req *types.Request, startTime time.Time) {
	if err := h.playerCtl.Close(ctx); err != nil {
		metrics.RecordCommandError(req.Cmd)
		h.writeError(w, playerErrorMessage(err), startTime)
		return
	}
	h.writePlayer(w, "Player closed", nil, startTime)
}

func (h *Handler) handlePlayerStatus(w http.ResponseWriter, startTime time.Time) {
	status := h.playerCtl.Status()
	h.writePlayer(w, "Player status", &status, startTime)
}

// handleListing answers catalog commands. A failed upstream fetch degrades to
// an explicit empty list alongside the error message so the front end renders
// its no-results state instead of breaking.
func (h *Handler) handleListing(w http.ResponseWriter, req *types.Request, startTime time.Time, movies []types.Movie, err error) {
	status, message := types.StatusOK, "OK"
	if err != nil {
		metrics.RecordCommandError(req.Cmd)
		log.Error().Err(err).Str("cmd", req.Cmd).Msg("Catalog request failed")
		status, message = types.StatusError, err.Error()
		movies = nil
	}
	if movies == nil {
		movies = []types.Movie{}
	}
	resp := types.Response{
		Status:    status,
		Message:   message,
		StartTime: startTime.UnixMilli(),
		EndTime:   time.Now().UnixMilli(),
		Version:   version.Full(),
		Movies:    movies,
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) handleWatchProviders(w http.ResponseWriter, ctx context.Context, req *types.Request, startTime time.Time) {
	providers, err := h.catalog.WatchProviders(ctx, req.MovieID)
	if err != nil {
		metrics.RecordCommandError(req.Cmd)
		h.writeError(w, err.Error(), startTime)
		return
	}
	resp := types.Response{
		Status:    types.StatusOK,
		Message:   "OK",
		StartTime: startTime.UnixMilli(),
		EndTime:   time.Now().UnixMilli(),
		Version:   version.Full(),
		Watchers:  providers,
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) writePlayer(w http.ResponseWriter, message string, status *types.PlayerStatus, startTime time.Time) {
	resp := types.Response{
		Status:    types.StatusOK,
		Message:   message,
		StartTime: startTime.UnixMilli(),
		EndTime:   time.Now().UnixMilli(),
		Version:   version.Full(),
		Player:    status,
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// writeError returns HTTP 200 with the error in the JSON envelope so API
// clients handle one response shape.
func (h *Handler) writeError(w http.ResponseWriter, message string, startTime time.Time) {
	h.writeErrorWithStatus(w, http.StatusOK, message, startTime)
}

func (h *Handler) writeErrorWithStatus(w http.ResponseWriter, statusCode int, message string, startTime time.Time) {
	resp := types.Response{
		Status:    types.StatusError,
		Message:   message,
		StartTime: startTime.UnixMilli(),
		EndTime:   time.Now().UnixMilli(),
		Version:   version.Full(),
	}
	h.writeJSONResponse(w, statusCode, resp)
}

// writeJSONResponse buffers JSON before writing so encoding errors are
// caught before headers go out.
func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, resp interface{}) {
	buf := getResponseBuffer()
	defer putResponseBuffer(buf)

	if err := json.NewEncoder(buf).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error","message":"internal encoding error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	_, _ = w.Write(buf.Bytes())
}

// playerErrorMessage maps controller sentinels to stable client-facing
// messages.
func playerErrorMessage(err error) string {
	switch {
	case errors.Is(err, types.ErrUnknownProvider):
		return "unknown provider"
	case errors.Is(err, types.ErrPlayerClosed):
		return "player is not open"
	case errors.Is(err, types.ErrPlayerBusy):
		return "player transition already in progress, retry shortly"
	default:
		return err.Error()
	}
}

func parseMovieID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, types.ErrMovieIDMissing
	}
	return id, nil
}
