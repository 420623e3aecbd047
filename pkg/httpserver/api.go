package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/mselser95/binary-arb/internal/control"
	"github.com/mselser95/binary-arb/pkg/types"
	"go.uber.org/zap"
)

const (
	defaultCycleLimit = 50
	maxCycleLimit     = 500
)

// Commander executes operator commands.
type Commander interface {
	Execute(ctx context.Context, cmd control.Command) (*control.Result, error)
}

// CycleLister reads cycle history.
type CycleLister interface {
	LoadRecentCycles(ctx context.Context, limit int) ([]*types.Cycle, error)
}

// ErrorResponse represents an HTTP error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CyclesResponse is the body of GET /api/cycles.
type CyclesResponse struct {
	Count  int            `json:"count"`
	Cycles []*types.Cycle `json:"cycles"`
}

type controlHandler struct {
	control Commander
	logger  *zap.Logger
}

// HandleStatus handles GET /api/status.
func (h *controlHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	res, err := h.control.Execute(r.Context(), control.Status)
	if err != nil {
		writeError(w, h.logger, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, res.Snapshot)
}

// HandleCommand handles POST /api/control/{command}.
func (h *controlHandler) HandleCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := control.ParseCommand(chi.URLParam(r, "command"))
	if err != nil {
		writeError(w, h.logger, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.control.Execute(r.Context(), cmd)
	if err != nil {
		h.logger.Error("control-command-failed", zap.String("command", string(cmd)), zap.Error(err))
		writeError(w, h.logger, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, res)
}

type cyclesHandler struct {
	cycles CycleLister
	logger *zap.Logger
}

// HandleCycles handles GET /api/cycles?limit=<n>.
func (h *cyclesHandler) HandleCycles(w http.ResponseWriter, r *http.Request) {
	limit := defaultCycleLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, h.logger, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxCycleLimit)
	}

	cycles, err := h.cycles.LoadRecentCycles(r.Context(), limit)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		h.logger.Error("load-cycles-failed", zap.Error(err))
		writeError(w, h.logger, "failed to load cycles", http.StatusInternalServerError)
		return
	}
	if cycles == nil {
		cycles = []*types.Cycle{}
	}

	writeJSON(w, h.logger, http.StatusOK, CyclesResponse{Count: len(cycles), Cycles: cycles})
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		logger.Error("failed-to-encode-response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, message string, statusCode int) {
	writeJSON(w, logger, statusCode, ErrorResponse{Error: message})
}
