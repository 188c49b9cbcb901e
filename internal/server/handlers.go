package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/topicdeck/topicdeck/internal/errors"
	"github.com/topicdeck/topicdeck/internal/metrics"
	"github.com/topicdeck/topicdeck/internal/topic"
)

// maxUploadForm caps multipart form memory plus a margin for the text fields.
const maxUploadForm = topic.MaxImageSize + 1<<20

// errorBody is the JSON error envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// writeError maps an error onto the API taxonomy and writes the JSON error
// envelope. Unknown errors become 500 without leaking details.
func writeError(w http.ResponseWriter, err error) {
	var apiErr *apierrors.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("unclassified handler error", "error", err)
		apiErr = apierrors.ErrInternal
	}
	writeJSON(w, apiErr.HTTPStatus, errorBody{Code: apiErr.Code, Message: apiErr.Message})
}

func (s *Server) handleBusy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"visible": s.busy.Visible(),
		"active":  s.busy.Active(),
	})
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.repo.All(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, topics)
}

// createTopicRequest is the body of POST /topics.
type createTopicRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var req createTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierrors.ErrInvalidArgument)
		return
	}
	if req.Name == "" {
		writeError(w, apierrors.ErrInvalidArgument)
		return
	}

	created, err := s.repo.Create(r.Context(), req.Name, req.Description)
	if err != nil {
		metrics.TopicOperationsTotal.WithLabelValues("create", "error").Inc()
		writeError(w, err)
		return
	}
	metrics.TopicOperationsTotal.WithLabelValues("create", "ok").Inc()
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	t, err := s.repo.Get(r.Context(), chi.URLParam(r, "topicID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// updateTopicRequest is the body of PATCH /topics/{id}. Absent fields leave
// the document untouched.
type updateTopicRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Active      *bool   `json:"active"`
}

func (s *Server) handleUpdateTopic(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "topicID")

	var req updateTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierrors.ErrInvalidArgument)
		return
	}

	patch := topic.Patch{Name: req.Name, Description: req.Description, Active: req.Active}
	if err := s.repo.Update(r.Context(), id, patch); err != nil {
		metrics.TopicOperationsTotal.WithLabelValues("update", "error").Inc()
		writeError(w, err)
		return
	}
	metrics.TopicOperationsTotal.WithLabelValues("update", "ok").Inc()

	t, err := s.repo.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleRemoveTopic(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.repo.Remove(r.Context(), chi.URLParam(r, "topicID"))
	if err != nil {
		metrics.TopicOperationsTotal.WithLabelValues("remove", "error").Inc()
		writeError(w, err)
		return
	}
	s.repo.RunCleanup(r.Context(), tasks)
	metrics.TopicOperationsTotal.WithLabelValues("remove", "ok").Inc()
	w.WriteHeader(http.StatusNoContent)
}

// handleUploadImage accepts a multipart form with a "file" part and optional
// "title_en", "title_cs", "title_es" fields.
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "topicID")

	if err := r.ParseMultipartForm(maxUploadForm); err != nil {
		writeError(w, apierrors.ErrInvalidArgument)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apierrors.ErrInvalidArgument)
		return
	}
	defer file.Close()

	mime := header.Header.Get("Content-Type")
	titles := topic.Titles{
		EN: r.FormValue("title_en"),
		CS: r.FormValue("title_cs"),
		ES: r.FormValue("title_es"),
	}

	img, err := s.uploads.UploadImage(r.Context(), topicID, topic.File{
		Name:    header.Filename,
		MIME:    mime,
		Size:    header.Size,
		Content: file,
	}, titles)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, img)
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "topicID")
	imageID := chi.URLParam(r, "imageID")

	tasks, err := s.uploads.DeleteImage(r.Context(), topicID, imageID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.uploads.RunCleanup(r.Context(), tasks)
	w.WriteHeader(http.StatusNoContent)
}

// reorderRequest is the body of POST /topics/{id}/reorder.
type reorderRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "topicID")

	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierrors.ErrInvalidArgument)
		return
	}

	t, err := s.repo.Get(r.Context(), topicID)
	if err != nil {
		writeError(w, err)
		return
	}

	var result []topic.ImageMeta
	err = s.ordering.Reorder(r.Context(), topicID, t.Images, req.From, req.To, func(next []topic.ImageMeta) {
		result = next
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if result == nil {
		result = t.Images
	}
	writeJSON(w, http.StatusOK, map[string]any{"images": result})
}

// handleWatchAll streams full topic-set snapshots as server-sent events.
func (s *Server) handleWatchAll(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apierrors.ErrInternal)
		return
	}

	stream, err := s.repo.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	sseHeaders(w)
	for topics := range stream {
		if err := writeSSE(w, topics); err != nil {
			return
		}
		flusher.Flush()
	}
}

// handleWatchTopic streams snapshots of one topic as server-sent events. An
// absent document is streamed as a JSON null.
func (s *Server) handleWatchTopic(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apierrors.ErrInternal)
		return
	}

	stream, err := s.repo.Watch(r.Context(), chi.URLParam(r, "topicID"))
	if err != nil {
		writeError(w, err)
		return
	}

	sseHeaders(w)
	for t := range stream {
		if err := writeSSE(w, t); err != nil {
			return
		}
		flusher.Flush()
	}
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

func writeSSE(w http.ResponseWriter, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
