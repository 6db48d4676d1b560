package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "covidseir/internal/errors"
	"covidseir/internal/middleware"
	"covidseir/internal/services"
)

// SimulationService runs simulations and describes the available countries.
type SimulationService interface {
	Run(ctx context.Context, req services.SimulationRequest) (*services.SimulationResult, error)
	Countries() []services.CountrySummary
	Country(name string) (*services.CountryDetail, error)
}

// SimulationHandler serves the country catalogue and synchronous runs.
type SimulationHandler struct {
	service      SimulationService
	validator    *middleware.Validator
	errorHandler *apperrors.ErrorHandler
	timeout      time.Duration
	logger       *slog.Logger
}

// NewSimulationHandler creates the handler. A zero timeout leaves
// synchronous runs bounded only by the client connection.
func NewSimulationHandler(service SimulationService, validator *middleware.Validator, errorHandler *apperrors.ErrorHandler, timeout time.Duration, logger *slog.Logger) *SimulationHandler {
	return &SimulationHandler{
		service:      service,
		validator:    validator,
		errorHandler: errorHandler,
		timeout:      timeout,
		logger:       logger.With(slog.String("handler", "simulation")),
	}
}

// Routes mounts under /api.
func (h *SimulationHandler) Routes(r chi.Router) {
	r.Get("/countries", h.ListCountries)
	r.Get("/countries/{name}", h.GetCountry)
	r.Post("/simulations", h.RunSimulation)
}

// ListCountries handles GET /api/countries
func (h *SimulationHandler) ListCountries(w http.ResponseWriter, r *http.Request) {
	countries := h.service.Countries()
	render.JSON(w, r, map[string]interface{}{
		"countries": countries,
		"count":     len(countries),
	})
}

// GetCountry handles GET /api/countries/{name}
func (h *SimulationHandler) GetCountry(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	detail, err := h.service.Country(name)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, detail)
}

// RunSimulation handles POST /api/simulations. The run happens on the
// request goroutine and is cancelled when the client goes away.
func (h *SimulationHandler) RunSimulation(w http.ResponseWriter, r *http.Request) {
	var req services.SimulationRequest
	if !h.validator.DecodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	result, err := h.service.Run(ctx, req)
	if err != nil {
		h.logger.WarnContext(ctx, "synchronous simulation failed",
			slog.String("country", req.Country),
			slog.String("error", err.Error()))
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}
