package exchange

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/farmadist/farmadist/internal/platform/httpx"
)

// Handler exposes the issuance workflow over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler creates a new handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes registers routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/drafts", h.startDraft)
	r.Get("/drafts/{id}", h.getDraft)
	r.Put("/drafts/{id}/header", h.updateHeader)
	r.Get("/drafts/{id}/catalog", h.searchCatalog)
	r.Post("/drafts/{id}/catalog/refresh", h.refreshCatalog)
	r.Post("/drafts/{id}/lines", h.commitSelection)
	r.Put("/drafts/{id}/lines/{lineID}", h.editQuantity)
	r.Delete("/drafts/{id}/lines/{lineID}", h.removeLine)
	r.Post("/drafts/{id}/register", h.register)
	r.Post("/drafts/{id}/finalize", h.finalize)
	r.Delete("/drafts/{id}", h.abandon)
	r.Get("/documents", h.listDocuments)
	r.Get("/documents/{number}", h.consult)
	r.Delete("/documents/{number}", h.deleteComplete)
}

func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "system"
}

func (h *Handler) startDraft(w http.ResponseWriter, r *http.Request) {
	var req StartDraftRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	draft, err := h.service.StartDraft(r.Context(), actor(r), req.LaboratoryCode)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, draftResponse(draft))
}

func (h *Handler) getDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := h.service.Draft(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, draftResponse(draft))
}

func (h *Handler) updateHeader(w http.ResponseWriter, r *http.Request) {
	var req UpdateHeaderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	draft, err := h.service.UpdateHeader(chi.URLParam(r, "id"), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, draftResponse(draft))
}

func (h *Handler) searchCatalog(w http.ResponseWriter, r *http.Request) {
	lines, err := h.service.SearchCatalog(chi.URLParam(r, "id"), r.URL.Query().Get("q"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (h *Handler) refreshCatalog(w http.ResponseWriter, r *http.Request) {
	draft, err := h.service.RefreshCatalog(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, draftResponse(draft))
}

func (h *Handler) commitSelection(w http.ResponseWriter, r *http.Request) {
	var req CommitSelectionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	draft, err := h.service.CommitSelection(chi.URLParam(r, "id"), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, draftResponse(draft))
}

func (h *Handler) editQuantity(w http.ResponseWriter, r *http.Request) {
	var req EditQuantityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	draft, err := h.service.EditQuantity(chi.URLParam(r, "id"), chi.URLParam(r, "lineID"), req.Quantity)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, draftResponse(draft))
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	draft, err := h.service.RemoveLine(chi.URLParam(r, "id"), chi.URLParam(r, "lineID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, draftResponse(draft))
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	remissionNumber, err := h.service.Register(r.Context(), actor(r), id)
	if err != nil {
		h.respondError(w, err)
		return
	}

	draft, err := h.service.Draft(id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, RegisterResponse{
		DocumentNumber:  draft.Header.DocumentNumber,
		RemissionNumber: remissionNumber,
		State:           StateAwaitingRemissionInput,
	})
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	var req FinalizeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	draft, err := h.service.Finalize(r.Context(), actor(r), chi.URLParam(r, "id"), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, draftResponse(draft))
}

func (h *Handler) abandon(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Abandon(chi.URLParam(r, "id")); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	headers, pagination, err := h.service.ListDocuments(r.Context(), page, perPage)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"documents":  headers,
		"pagination": pagination,
	})
}

func (h *Handler) consult(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Consult(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) deleteComplete(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.DeleteComplete(r.Context(), actor(r), chi.URLParam(r, "number"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

// respondError maps workflow errors onto problem responses. Saga step errors
// keep their step and document in the detail so the operator can tell how far
// issuance got.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var capErr *CapacityError
	var stepErr *StepError
	var revErr *ReversalError

	switch {
	case errors.Is(err, ErrDraftNotFound), errors.Is(err, ErrLineNotFound), errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrIncompleteInput):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", err.Error())
	case errors.As(err, &capErr):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Capacity Exceeded", err.Error())
	case errors.Is(err, ErrDraftImmutable), errors.Is(err, ErrNotAwaitingRemission),
		errors.Is(err, ErrOrphanedLine), errors.Is(err, ErrRemissionAttached):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrCatalogUnavailable):
		httpx.Problem(w, http.StatusServiceUnavailable, "Catalog Unavailable", err.Error())
	case errors.As(err, &stepErr):
		h.logger.Error("issuance step failed",
			slog.String("document", stepErr.DocumentNumber),
			slog.String("step", string(stepErr.Step)),
			slog.Any("error", stepErr.Err))
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrCounterInsufficient) ||
			errors.Is(err, ErrDuplicateDocument) || errors.Is(err, ErrDuplicateRemission) {
			status = http.StatusConflict
		}
		httpx.Problem(w, status, "Issuance Step Failed", err.Error())
	case errors.As(err, &revErr):
		h.logger.Error("reversal failed",
			slog.String("document", revErr.DocumentNumber),
			slog.Any("error", revErr.Err))
		httpx.Problem(w, http.StatusInternalServerError, "Reversal Failed", err.Error())
	default:
		h.logger.Error("exchange request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
