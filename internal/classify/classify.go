// Package classify provides the allow/block domain decision used by every
// interception point in the guard subsystem.
package classify

import "strings"

// defaultBlockPatterns are substrings of URLs belonging to ad, popup and
// tracking networks commonly injected around third-party streaming embeds.
// Matching is case-insensitive substring over the full URL.
var defaultBlockPatterns = []string{
	"doubleclick.net",
	"googlesyndication.com",
	"googleadservices.com",
	"googletagmanager.com",
	"googletagservices.com",
	"google-analytics.com",
	"adsco.re",
	"adskeeper",
	"adnxs.com",
	"adsrvr.org",
	"amazon-adsystem.com",
	"popads.net",
	"popcash.net",
	"propellerads",
	"propu.sh",
	"onclickgenius",
	"mgid.com",
	"taboola.com",
	"outbrain.com",
	"criteo.com",
	"exoclick.com",
	"juicyads.com",
	"trafficjunky",
	"hilltopads",
	"adsterra",
	"clickadu",
	"galaksion",
	"pemsrv.com",
	"tsyndicate.com",
	"creative-sb",
	"zeuspush",
	"push-sdk",
	"notix.io",
	"banner",
	"/ads/",
	"/popup",
}

// defaultAllowPatterns are substrings of URLs that must never be blocked,
// no matter what the block list says. False positives here break the app
// itself (the metadata API, poster images, the streaming providers).
var defaultAllowPatterns = []string{
	"themoviedb.org",
	"tmdb.org",
	"image.tmdb.org",
	"vidnest.fun",
	"cinemaos.tech",
	"vidsrc",
	"embed.su",
	"autoembed",
}

// Classifier maps a URL to an allow/block decision using two immutable
// pattern sets. The allow list always wins; URLs matching neither list are
// allowed through (fail-open), since an over-eager block breaks core
// functionality such as the metadata API itself.
type Classifier struct {
	block []string
	allow []string
}

// New creates a Classifier from the embedded defaults plus any extra
// patterns. Patterns are lower-cased once at construction.
func New(extraBlock, extraAllow []string) *Classifier {
	return &Classifier{
		block: normalize(defaultBlockPatterns, extraBlock),
		allow: normalize(defaultAllowPatterns, extraAllow),
	}
}

func normalize(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	for _, set := range [][]string{base, extra} {
		for _, p := range set {
			p = strings.ToLower(strings.TrimSpace(p))
			if p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// IsBlocked reports whether a request to url should be vetoed.
// Empty input is never blocked. The allow list short-circuits.
func (c *Classifier) IsBlocked(url string) bool {
	if url == "" {
		return false
	}
	lower := strings.ToLower(url)

	for _, p := range c.allow {
		if strings.Contains(lower, p) {
			return false
		}
	}
	for _, p := range c.block {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// BlockPatterns returns a copy of the active block patterns. Used to
// serialize the list into the in-page interception script.
func (c *Classifier) BlockPatterns() []string {
	out := make([]string, len(c.block))
	copy(out, c.block)
	return out
}

// AllowPatterns returns a copy of the active allow patterns.
func (c *Classifier) AllowPatterns() []string {
	out := make([]string, len(c.allow))
	copy(out, c.allow)
	return out
}
