package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/thebtf/incident-cluster/internal/engine"
	"github.com/thebtf/incident-cluster/internal/metrics"
	"github.com/thebtf/incident-cluster/pkg/models"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Detail string `json:"detail"`
}

// writeJSON writes a JSON response with proper error handling.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// readBody reads the whole request body and maps an oversized body to 413.
// It returns false after writing an error response.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read request body: %v", err))
		return nil, false
	}
	return data, true
}

// writeContextError answers a request whose context ended before the work
// finished. A client that went away gets no body.
func writeContextError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, "request timed out")
		return
	}
	zerolog.Ctx(r.Context()).Debug().Err(err).Msg("Client went away")
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// handleHealth handles health check requests.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.config.Version,
	})
}

// handleCluster clusters a batch of embeddings.
func (s *Service) handleCluster(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var req models.ClusterRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	resp, err := s.engine.Cluster(ctx, &req, metrics.TransportHTTP)
	switch {
	case isContextError(err):
		writeContextError(w, r, err)
		return
	case errors.Is(err, engine.ErrTooManyItems):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case errors.Is(err, models.ErrInvalidParams):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Clustering failed")
		writeError(w, http.StatusInternalServerError, "clustering failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSelect ranks incidents by priority and returns the top N.
func (s *Service) handleSelect(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var req models.SelectRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	maxItems := 0
	if req.MaxItems != nil {
		if *req.MaxItems < 1 {
			writeError(w, http.StatusBadRequest, "max_items must be >= 1")
			return
		}
		maxItems = *req.MaxItems
	}

	selected := s.selector.Select(req.Items, maxItems)
	zerolog.Ctx(r.Context()).Debug().
		Int("items", len(req.Items)).
		Int("selected", len(selected)).
		Msg("Selection complete")

	writeJSON(w, http.StatusOK, models.SelectResponse{
		Version:  s.config.SelectVersion,
		Selected: selected,
	})
}

// handleEvents appends the raw request body to the events stream for
// asynchronous clustering by the stream consumer.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.producer == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}

	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "request body must be valid JSON")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	id, err := s.producer.Publish(ctx, body)
	if isContextError(err) {
		writeContextError(w, r, err)
		return
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to publish event")
		writeError(w, http.StatusBadGateway, "failed to publish event")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"ok": true,
		"id": id,
	})
}
