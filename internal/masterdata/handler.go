package masterdata

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/farmadist/farmadist/internal/platform/httpx"
)

// Handler exposes the lookup catalogs over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler creates a new handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/laboratories", h.laboratories)
	r.Get("/laboratories/{code}/providers", h.providers)
	r.Get("/providers/{code}", h.provider)
	r.Get("/carriers", h.carriers)
	r.Get("/carriers/{code}", h.carrier)
}

func (h *Handler) laboratories(w http.ResponseWriter, r *http.Request) {
	labs, err := h.service.Laboratories(r.Context())
	if err != nil {
		h.logger.Error("list laboratories failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"laboratories": labs})
}

func (h *Handler) providers(w http.ResponseWriter, r *http.Request) {
	labCode := chi.URLParam(r, "code")
	providers, err := h.service.Providers(r.Context(), labCode)
	if err != nil {
		h.logger.Error("list providers failed", slog.Any("error", err), slog.String("laboratory", labCode))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"providers": providers})
}

func (h *Handler) provider(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	provider, err := h.service.Provider(r.Context(), code)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, provider)
}

func (h *Handler) carrier(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	carrier, err := h.service.Carrier(r.Context(), code)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, carrier)
}

func (h *Handler) carriers(w http.ResponseWriter, r *http.Request) {
	carriers, err := h.service.Carriers(r.Context())
	if err != nil {
		h.logger.Error("list carriers failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"carriers": carriers})
}
