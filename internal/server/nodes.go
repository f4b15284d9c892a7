package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/HerbHall/ztpserver/internal/provision"
	"github.com/HerbHall/ztpserver/internal/repository"
	"github.com/HerbHall/ztpserver/pkg/models"
)

// Request body limits.
const (
	maxNodeBody          = 1 << 20
	maxStartupConfigBody = 16 << 20
)

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, maxNodeBody)
	if !ok {
		return
	}

	resp, err := s.nodes.Create(r.Context(), body)
	if err != nil {
		s.writeNodeError(w, r, err)
		return
	}

	if resp.Location != "" {
		w.Header().Set("Location", resp.Location)
	}
	// 409 deliberately carries no body.
	w.WriteHeader(resp.Status)
}

func (s *Server) handleShowNode(w http.ResponseWriter, r *http.Request) {
	resp, err := s.nodes.Show(r.Context(), r.PathValue("resource"))
	if err != nil {
		s.writeNodeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func (s *Server) handleGetStartupConfig(w http.ResponseWriter, r *http.Request) {
	data, err := s.nodes.GetStartupConfig(r.Context(), r.PathValue("resource"))
	if err != nil {
		s.writeNodeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (s *Server) handlePutStartupConfig(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, maxStartupConfigBody)
	if !ok {
		return
	}
	created, err := s.nodes.PutStartupConfig(r.Context(), r.PathValue("resource"), body)
	if err != nil {
		s.writeNodeError(w, r, err)
		return
	}
	if created {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleNodeHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			BadRequest(w, "limit must be between 1 and 1000", r.URL.Path)
			return
		}
		limit = n
	}

	entries, err := s.history.ListByNode(r.Context(), r.PathValue("resource"), limit)
	if err != nil {
		s.logger.Error("list node history failed", zap.Error(err))
		InternalError(w, "failed to list node history", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

// readBody reads at most limit bytes; it writes the error response itself.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteProblem(w, problem(ProblemTypeTooLarge, http.StatusRequestEntityTooLarge,
				"request body exceeds "+strconv.FormatInt(limit, 10)+" bytes", r.URL.Path))
			return nil, false
		}
		BadRequest(w, "failed to read request body", r.URL.Path)
		return nil, false
	}
	return body, true
}

// writeNodeError maps provisioning errors onto problem responses.
// Workflow failures are client errors; anything unclassified is a 500.
func (s *Server) writeNodeError(w http.ResponseWriter, r *http.Request, err error) {
	var stepErr *provision.StepError
	switch {
	case errors.As(err, &stepErr):
		p := problem(ProblemTypeWorkflow, http.StatusBadRequest, err.Error(), r.URL.Path)
		p.Node = stepErr.NodeID
		p.State = stepErr.State.String()
		WriteProblem(w, p)
	case errors.Is(err, models.ErrMissingIdentifier),
		errors.Is(err, models.ErrInvalidNode),
		errors.Is(err, provision.ErrInvalidResource),
		errors.Is(err, provision.ErrUnknownNode):
		BadRequest(w, err.Error(), r.URL.Path)
	case errors.Is(err, repository.ErrNotFound):
		NotFound(w, "resource not found", r.URL.Path)
	default:
		s.logger.Error("unhandled provisioning error",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
		InternalError(w, "an unexpected error occurred", r.URL.Path)
	}
}
