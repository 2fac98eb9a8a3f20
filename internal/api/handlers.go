package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"streamsaver/internal/dispatch"
	"streamsaver/internal/downloader"
	"streamsaver/internal/events"
)

const (
	maxCommandBody    = 1 << 20
	eventBuffer       = 64
	heartbeatInterval = 15 * time.Second
)

// statusCodes maps command failures onto HTTP statuses
var statusCodes = map[dispatch.Code]int{
	dispatch.CodeInvalidURL:       http.StatusBadRequest,
	dispatch.CodeInvalidParams:    http.StatusBadRequest,
	dispatch.CodeEngineNotReady:   http.StatusServiceUnavailable,
	dispatch.CodeBusy:             http.StatusServiceUnavailable,
	dispatch.CodeNotImplemented:   http.StatusNotImplemented,
	dispatch.CodeAnalyzeError:     http.StatusBadGateway,
	dispatch.CodeDownloadError:    http.StatusBadGateway,
	dispatch.CodeUpdateError:      http.StatusBadGateway,
	dispatch.CodeExtractionFailed: http.StatusBadGateway,
}

// StatusResponse is the body of /api/status
type StatusResponse struct {
	Version         string                `json:"version"`
	EngineState     string                `json:"engineState"`
	EngineVersion   string                `json:"engineVersion"`
	ActiveDownloads []downloader.Download `json:"activeDownloads"`
	Subscribers     int                   `json:"subscribers"`
}

// handleCommand runs POST /api/{method} with the body as arguments
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	method := chi.URLParam(r, "method")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &dispatch.Error{Code: dispatch.CodeInvalidParams, Message: "failed to read body"})
		return
	}

	reply, err := s.deps.Dispatcher.Dispatch(r.Context(), dispatch.Command{Method: method, Args: body})
	if err != nil {
		var derr *dispatch.Error
		if !errors.As(err, &derr) {
			derr = &dispatch.Error{Code: dispatch.CodeNotImplemented, Message: err.Error()}
		}
		status, ok := statusCodes[derr.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, derr)
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

// handleEvents streams bus events to the client until it disconnects.
// ?type= narrows the stream to one event type.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var sub *events.Subscription
	if t := r.URL.Query().Get("type"); t != "" {
		sub = s.deps.Events.Subscribe(t, eventBuffer)
	} else {
		sub = s.deps.Events.SubscribeAll(eventBuffer)
	}
	defer s.deps.Events.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e := <-sub.Events():
			data, err := json.Marshal(e)
			if err != nil {
				s.logger.Warn("failed to encode event", "type", e.EventType(), "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.EventType(), data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleHealth handles health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus reports engine readiness and in-flight work
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	active := []downloader.Download{}
	if s.deps.Downloads != nil {
		active = append(active, s.deps.Downloads.Active()...)
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Version:         s.deps.Version,
		EngineState:     s.deps.Engine.CurrentState().String(),
		EngineVersion:   s.deps.EngineVersion(),
		ActiveDownloads: active,
		Subscribers:     s.deps.Events.Subscribers(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
