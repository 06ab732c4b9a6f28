package handlers

import (
	"net/http"
	"time"

	"github.com/Simon111302/movies/internal/metrics"
	"github.com/Simon111302/movies/internal/types"
)

// routeCommand routes validated API commands to their handlers. Request
// validation has already rejected unknown commands.
func (h *Handler) routeCommand(w http.ResponseWriter, r *http.Request, req *types.Request, startTime time.Time) {
	ctx := r.Context()
	defer func() {
		metrics.ObserveCommand(req.Cmd, time.Since(startTime))
	}()

	switch req.Cmd {
	case types.CmdPlayerOpen:
		h.handlePlayerOpen(w, ctx, req, startTime)
	case types.CmdPlayerSwitch:
		h.handlePlayerSwitch(w, ctx, req, startTime)
	case types.CmdPlayerClose:
		h.handlePlayerClose(w, ctx, req, startTime)
	case types.CmdPlayerStatus:
		h.handlePlayerStatus(w, startTime)
	case types.CmdMoviesTrending:
		movies, err := h.catalog.Trending(ctx, req.Page)
		h.handleListing(w, req, startTime, movies, err)
	case types.CmdMoviesPopular:
		movies, err := h.catalog.Popular(ctx, req.Page)
		h.handleListing(w, req, startTime, movies, err)
	case types.CmdMoviesUpcoming:
		movies, err := h.catalog.Upcoming(ctx, req.Page)
		h.handleListing(w, req, startTime, movies, err)
	case types.CmdMoviesSearch:
		movies, err := h.catalog.Search(ctx, req.Query, req.Page)
		h.handleListing(w, req, startTime, movies, err)
	case types.CmdMoviesDiscover:
		movies, err := h.catalog.Discover(ctx, req.GenreID, req.Page)
		h.handleListing(w, req, startTime, movies, err)
	case types.CmdMoviesWatchers:
		h.handleWatchProviders(w, ctx, req, startTime)
	default:
		// Unreachable after Validate, kept for safety
		h.writeError(w, "unknown command", startTime)
	}
}
