package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/podbrief/podbrief/internal/rss"
	"github.com/podbrief/podbrief/internal/settings"
)

// feedHandler renders the podcast feed on every request. The document is a
// pure function of the published digest rows and the feed settings, so
// there is nothing to invalidate; the Cache-Control header hands caching to
// the CDN/edge in front of us.
type feedHandler struct {
	store FeedStore
	log   zerolog.Logger
	now   func() time.Time
}

func (h *feedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.LoadSettings(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("load settings for feed")
		WriteError(w, http.StatusInternalServerError, "feed unavailable")
		return
	}
	cfg, err := settings.LoadRSS(rows)
	if err != nil {
		h.log.Error().Err(err).Msg("feed settings invalid")
		WriteError(w, http.StatusInternalServerError, "feed misconfigured")
		return
	}

	digests, err := h.store.PublishedDigests(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("query published digests")
		WriteError(w, http.StatusInternalServerError, "feed unavailable")
		return
	}

	body, err := rss.Build(digests, cfg, h.now())
	if err != nil {
		h.log.Error().Err(err).Msg("render feed")
		WriteError(w, http.StatusInternalServerError, "feed unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d",
		cfg.EdgeCacheSeconds, cfg.SWRSeconds))
	w.Write(body)
}
