package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xkilldash9x/extbridge/api/schemas"
	"github.com/xkilldash9x/extbridge/internal/dispatcher"
)

// maxBodySize bounds a command body; EXECUTE_SCRIPT carries whole scripts.
const maxBodySize = 1 << 20

// handleHealthCheck confirms the server is responsive.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleCommand dispatches one Request. A dropped request gets 204 and no body.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req schemas.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		s.respond(w, http.StatusBadRequest, schemas.Fail(fmt.Errorf("invalid request body: %w", err)))
		return
	}

	ctx := r.Context()
	if id := middleware.GetReqID(ctx); id != "" {
		ctx = dispatcher.WithRequestID(ctx, id)
	}

	resp, ok := s.dispatcher.Dispatch(ctx, req)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.respond(w, http.StatusOK, resp)
}

// respond writes resp as the JSON body.
func (s *Server) respond(w http.ResponseWriter, statusCode int, resp schemas.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
