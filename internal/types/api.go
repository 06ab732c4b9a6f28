package types

import (
	"fmt"
	"strings"
)

// Request validation limits.
const (
	MaxCmdLength      = 64
	MaxQueryLength    = 512
	MaxProviderLength = 64
	MaxPage           = 1000
)

// API command names.
const (
	CmdPlayerOpen     = "player.open"
	CmdPlayerSwitch   = "player.switchProvider"
	CmdPlayerClose    = "player.close"
	CmdPlayerStatus   = "player.status"
	CmdMoviesTrending = "movies.trending"
	CmdMoviesPopular  = "movies.popular"
	CmdMoviesUpcoming = "movies.upcoming"
	CmdMoviesSearch   = "movies.search"
	CmdMoviesDiscover = "movies.discover"
	CmdMoviesWatchers = "movies.providers"
)

// Response status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Request represents an incoming API request envelope.
type Request struct {
	Cmd      string `json:"cmd"`
	MovieID  int64  `json:"movieId,omitempty"`
	Provider string `json:"provider,omitempty"`
	Query    string `json:"query,omitempty"`
	GenreID  int    `json:"genreId,omitempty"`
	Page     int    `json:"page,omitempty"`
}

// validCommands is the set of accepted API commands.
var validCommands = map[string]bool{
	CmdPlayerOpen:     true,
	CmdPlayerSwitch:   true,
	CmdPlayerClose:    true,
	CmdPlayerStatus:   true,
	CmdMoviesTrending: true,
	CmdMoviesPopular:  true,
	CmdMoviesUpcoming: true,
	CmdMoviesSearch:   true,
	CmdMoviesDiscover: true,
	CmdMoviesWatchers: true,
}

// Validate validates the request and returns an error if invalid.
func (r *Request) Validate() error {
	if r.Cmd == "" {
		return fmt.Errorf("%w: cmd is required", ErrInvalidRequest)
	}
	if len(r.Cmd) > MaxCmdLength {
		return fmt.Errorf("%w: cmd exceeds maximum length of %d", ErrInvalidRequest, MaxCmdLength)
	}
	if !validCommands[r.Cmd] {
		// %q prevents log injection through the command field
		return fmt.Errorf("%w: %q", ErrInvalidCommand, r.Cmd)
	}

	if r.MovieID < 0 {
		return fmt.Errorf("%w: movieId cannot be negative", ErrInvalidRequest)
	}
	if len(r.Provider) > MaxProviderLength {
		return fmt.Errorf("%w: provider exceeds maximum length of %d", ErrInvalidRequest, MaxProviderLength)
	}
	if len(r.Query) > MaxQueryLength {
		return fmt.Errorf("%w: query exceeds maximum length of %d", ErrInvalidRequest, MaxQueryLength)
	}
	if r.Page < 0 || r.Page > MaxPage {
		return fmt.Errorf("%w: page must be between 0 and %d", ErrInvalidRequest, MaxPage)
	}

	switch r.Cmd {
	case CmdPlayerOpen, CmdMoviesWatchers:
		if r.MovieID == 0 {
			return ErrMovieIDMissing
		}
	case CmdPlayerSwitch:
		if strings.TrimSpace(r.Provider) == "" {
			return fmt.Errorf("%w: provider is required for %s", ErrInvalidRequest, CmdPlayerSwitch)
		}
	case CmdMoviesSearch:
		if strings.TrimSpace(r.Query) == "" {
			return fmt.Errorf("%w: query is required for %s", ErrInvalidRequest, CmdMoviesSearch)
		}
	}

	return nil
}

// Movie is a single listing item mapped from the upstream metadata API.
type Movie struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	PosterURL   string  `json:"posterUrl,omitempty"`
	Overview    string  `json:"overview,omitempty"`
	ReleaseDate string  `json:"releaseDate,omitempty"`
	Rating      float64 `json:"rating"`
}

// WatchProvider is a per-item watch-provider entry from the upstream API.
type WatchProvider struct {
	Name    string `json:"name"`
	LogoURL string `json:"logoUrl,omitempty"`
}

// PlayerStatus is the read-only view of the player lifecycle state.
type PlayerStatus struct {
	Open bool `json:"open"`
	// Transitioning is set when a session change is in flight; Open and the
	// counters are not meaningful until it clears.
	Transitioning   bool   `json:"transitioning,omitempty"`
	MovieID         int64  `json:"movieId,omitempty"`
	Title           string `json:"title,omitempty"`
	Provider        string `json:"provider,omitempty"`
	FrameURL        string `json:"frameUrl,omitempty"`
	OverlaysRemoved int64  `json:"overlaysRemoved"`
	RequestsBlocked int64  `json:"requestsBlocked"`
	PopupsVetoed    int64  `json:"popupsVetoed"`
	PopupsPurged    int64  `json:"popupsPurged"`
	Sweeps          int64  `json:"sweeps"`
}

// Response is the API response envelope.
type Response struct {
	Status    string          `json:"status"`
	Message   string          `json:"message,omitempty"`
	StartTime int64           `json:"startTimestamp"`
	EndTime   int64           `json:"endTimestamp"`
	Version   string          `json:"version"`
	Movies    []Movie         `json:"movies,omitzero"`
	Watchers  []WatchProvider `json:"providers,omitempty"`
	Player    *PlayerStatus   `json:"player,omitempty"`
}
