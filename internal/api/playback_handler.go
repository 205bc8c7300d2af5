package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/party"
	"github.com/isqad/livelook-party/internal/playback"
)

type SourceRequest struct {
	URL string `json:"url"`
}

type SeekingRequest struct {
	Seeking bool `json:"seeking"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusOf maps the errors of playback mutations to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, playback.ErrNotHost):
		return http.StatusForbidden
	case errors.Is(err, playback.ErrEmptySource), errors.Is(err, playback.ErrBadPosition):
		return http.StatusBadRequest
	case errors.Is(err, party.ErrLeft):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func PlaybackSourceHandler(p Party) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := SourceRequest{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Error().Err(err).Str("service", "api").Msg("can't parse source")
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}

		if err := p.SetVideoSource(r.Context(), req.URL); err != nil {
			log.Error().Err(err).Str("service", "api").Msg("can't set video source")
			writeJSON(w, statusOf(err), errorResponse{Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, p.Playback())
	}
}

func PlaybackUpdateHandler(p Party) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patch := core.PlaybackPatch{}
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			log.Error().Err(err).Str("service", "api").Msg("can't parse playback patch")
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}

		if err := p.SetPlaybackState(r.Context(), patch); err != nil {
			log.Error().Err(err).Str("service", "api").Msg("can't update playback")
			writeJSON(w, statusOf(err), errorResponse{Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, p.Playback())
	}
}

func PlaybackSeekingHandler(p Party) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := SeekingRequest{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Error().Err(err).Str("service", "api").Msg("can't parse seeking")
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}

		if err := p.SetSeeking(r.Context(), req.Seeking); err != nil {
			log.Error().Err(err).Str("service", "api").Msg("can't set seeking")
			writeJSON(w, statusOf(err), errorResponse{Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, p.Playback())
	}
}
