// Package player owns the lifecycle of one guarded playback session: it
// opens the host page, wires the guard layers around the provider embed, and
// tears everything down in one place.
package player

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Simon111302/movies/internal/security"
	"github.com/Simon111302/movies/internal/types"
)

// Target describes one streaming provider embed.
type Target struct {
	// Name is the stable identifier used in API requests.
	Name string
	// BaseURL is the provider origin, scheme included.
	BaseURL string
	// EmbedPath is a printf pattern taking the numeric movie id.
	EmbedPath string
}

// EmbedURL composes the iframe URL for a movie on this provider.
func (t Target) EmbedURL(movieID int64) string {
	return t.BaseURL + fmt.Sprintf(t.EmbedPath, movieID)
}

// Origin returns the scheme://host part of the provider, used for allow
// rules and frame origin checks.
func (t Target) Origin() string {
	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return t.BaseURL
	}
	return u.Scheme + "://" + u.Host
}

// Registry holds the known provider targets in preference order. The first
// entry is the default.
type Registry struct {
	order   []string
	targets map[string]Target
}

// DefaultRegistry returns the built-in provider set.
func DefaultRegistry() *Registry {
	r := &Registry{targets: make(map[string]Target)}
	r.add(Target{Name: "vidnest", BaseURL: "https://vidnest.fun", EmbedPath: "/movie/%d"})
	r.add(Target{Name: "cinemaos", BaseURL: "https://cinemaos.tech", EmbedPath: "/player/%d"})
	return r
}

// RegistryFromSpecs builds the registry from the defaults plus custom
// provider entries of the form "name=https://host/path/%d". A custom entry
// reusing a default name overrides it. Every custom base URL must pass the
// embed safety check; an entry pointing the guarded browser at a private
// address or a non-HTTP scheme is rejected.
func RegistryFromSpecs(specs []string) (*Registry, error) {
	r := DefaultRegistry()
	for _, spec := range specs {
		t, err := parseProviderSpec(spec)
		if err != nil {
			return nil, err
		}
		r.add(t)
	}
	return r, nil
}

func parseProviderSpec(spec string) (Target, error) {
	name, rawURL, ok := strings.Cut(strings.TrimSpace(spec), "=")
	name = strings.TrimSpace(name)
	rawURL = strings.TrimSpace(rawURL)
	if !ok || name == "" || rawURL == "" {
		return Target{}, fmt.Errorf("provider spec %q: want name=url", spec)
	}

	if strings.Count(rawURL, "%d") != 1 {
		return Target{}, fmt.Errorf("provider %q: embed URL must contain exactly one %%d", name)
	}

	// The %d placeholder is not a valid percent-escape, so parse a
	// substituted copy.
	u, err := url.Parse(strings.Replace(rawURL, "%d", "1", 1))
	if err != nil {
		return Target{}, fmt.Errorf("provider %q: %w", name, err)
	}
	base := u.Scheme + "://" + u.Host
	if !strings.HasPrefix(rawURL, base) {
		return Target{}, fmt.Errorf("provider %q: embed URL must start with its origin", name)
	}
	if err := security.ValidateURL(base); err != nil {
		return Target{}, fmt.Errorf("provider %q: %w", name, err)
	}

	return Target{Name: name, BaseURL: base, EmbedPath: strings.TrimPrefix(rawURL, base)}, nil
}

func (r *Registry) add(t Target) {
	if _, ok := r.targets[t.Name]; !ok {
		r.order = append(r.order, t.Name)
	}
	r.targets[t.Name] = t
}

// Get resolves a provider by name. The empty name yields the default.
func (r *Registry) Get(name string) (Target, error) {
	if name == "" {
		return r.targets[r.order[0]], nil
	}
	t, ok := r.targets[name]
	if !ok {
		return Target{}, fmt.Errorf("%w: %q", types.ErrUnknownProvider, name)
	}
	return t, nil
}

// Names lists providers in preference order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
