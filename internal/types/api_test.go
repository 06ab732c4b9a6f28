package types

import (
	"errors"
	"strings"
	"testing"
)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr string
	}{
		{
			name:    "empty cmd",
			req:     Request{},
			wantErr: "cmd is required",
		},
		{
			name:    "unknown cmd",
			req:     Request{Cmd: "sessions.create"},
			wantErr: "unknown command",
		},
		{
			name:    "cmd too long",
			req:     Request{Cmd: strings.Repeat("x", MaxCmdLength+1)},
			wantErr: "exceeds maximum length",
		},
		{
			name: "open without movie id",
			req:  Request{Cmd: CmdPlayerOpen},
			wantErr: ErrMovieIDMissing.Error(),
		},
		{
			name:    "open valid",
			req:     Request{Cmd: CmdPlayerOpen, MovieID: 42, Provider: "vidnest"},
			wantErr: "",
		},
		{
			name:    "switch without provider",
			req:     Request{Cmd: CmdPlayerSwitch, Provider: "   "},
			wantErr: "provider is required",
		},
		{
			name:    "switch valid",
			req:     Request{Cmd: CmdPlayerSwitch, Provider: "cinemaos"},
			wantErr: "",
		},
		{
			name:    "search without query",
			req:     Request{Cmd: CmdMoviesSearch},
			wantErr: "query is required",
		},
		{
			name:    "search valid",
			req:     Request{Cmd: CmdMoviesSearch, Query: "inception"},
			wantErr: "",
		},
		{
			name:    "negative movie id",
			req:     Request{Cmd: CmdMoviesTrending, MovieID: -1},
			wantErr: "cannot be negative",
		},
		{
			name:    "page out of range",
			req:     Request{Cmd: CmdMoviesPopular, Page: MaxPage + 1},
			wantErr: "page must be between",
		},
		{
			name:    "status needs nothing",
			req:     Request{Cmd: CmdPlayerStatus},
			wantErr: "",
		},
		{
			name:    "close needs nothing",
			req:     Request{Cmd: CmdPlayerClose},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateErrorKinds(t *testing.T) {
	err := (&Request{Cmd: "no.such.command"}).Validate()
	if !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Validate() = %v, want ErrInvalidCommand", err)
	}

	err = (&Request{Cmd: CmdMoviesSearch}).Validate()
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Validate() = %v, want ErrInvalidRequest", err)
	}
}

func TestGuardErrorUnwrap(t *testing.T) {
	err := NewBlockedRequestError("https://ads.example.com/banner.js")
	if !errors.Is(err, ErrAdBlocked) {
		t.Error("blocked request error should unwrap to ErrAdBlocked")
	}

	var ge *GuardError
	if !errors.As(err, &ge) {
		t.Fatal("expected *GuardError")
	}
	if ge.Op != "intercept" {
		t.Errorf("Op = %q, want %q", ge.Op, "intercept")
	}
}

func TestMetadataErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := NewMetadataFetchError("/trending/movie/week", 0, inner)

	if !errors.Is(err, ErrMetadataFetch) {
		t.Error("fetch error should unwrap to ErrMetadataFetch")
	}
	if !errors.Is(err, inner) {
		t.Error("fetch error should unwrap to the underlying error")
	}

	dec := NewMetadataDecodeError("/search/movie", errors.New("unexpected EOF"))
	if !errors.Is(dec, ErrMetadataDecode) {
		t.Error("decode error should unwrap to ErrMetadataDecode")
	}
}
