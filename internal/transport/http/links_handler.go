package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/IgorGrieder/zurl/internal/config"
	"github.com/IgorGrieder/zurl/internal/constants"
	"github.com/IgorGrieder/zurl/internal/infrastructure/logger"
	appvalidation "github.com/IgorGrieder/zurl/internal/infrastructure/validation"
	"github.com/IgorGrieder/zurl/internal/processing/links"
	"github.com/IgorGrieder/zurl/internal/transport/http/middleware"
	"github.com/IgorGrieder/zurl/pkg/httputils"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// maxStatsDays bounds the gap-filled stats window.
const maxStatsDays = 366

type LinksHandler struct {
	cfg *config.Config
	svc *links.Service

	asyncClick   bool
	clickTimeout time.Duration
	fastRedirect bool
}

func NewLinksHandler(cfg *config.Config, svc *links.Service) *LinksHandler {
	return NewLinksHandlerWithOptions(cfg, svc, LinksHandlerOptions{
		AsyncClick:   true,
		ClickTimeout: 2 * time.Second,
		FastRedirect: true,
	})
}

type LinksHandlerOptions struct {
	AsyncClick   bool
	ClickTimeout time.Duration
	FastRedirect bool
}

func NewLinksHandlerWithOptions(cfg *config.Config, svc *links.Service, opts LinksHandlerOptions) *LinksHandler {
	if opts.ClickTimeout <= 0 {
		opts.ClickTimeout = 2 * time.Second
	}

	return &LinksHandler{
		cfg:          cfg,
		svc:          svc,
		asyncClick:   opts.AsyncClick,
		clickTimeout: opts.ClickTimeout,
		fastRedirect: opts.FastRedirect,
	}
}

type createLinkRequest struct {
	URL       string `json:"url" validate:"required,notblank,http_url"`
	Slug      string `json:"slug,omitempty" validate:"omitempty,slug"`
	Protected bool   `json:"protected,omitempty"`
	Secret    string `json:"secret,omitempty" validate:"required_if=Protected true,max=128"`
}

// linkResponse is the owner's view of a link. The unlock secret is never
// serialized.
type linkResponse struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	ShortURL    string    `json:"shortUrl"`
	IsActive    bool      `json:"isActive"`
	IsProtected bool      `json:"isProtected"`
	FolderID    *string   `json:"folderId"`
	ClickCount  int64     `json:"clickCount"`
	CreatedAt   time.Time `json:"createdAt"`
	ModifiedAt  time.Time `json:"modifiedAt"`
}

func (h *LinksHandler) toResponse(l *links.ShortLink) linkResponse {
	return linkResponse{
		ID:          l.ID,
		URL:         l.OriginalURL,
		ShortURL:    h.cfg.Shortener.BaseURL + "/" + l.ID,
		IsActive:    l.IsActive,
		IsProtected: l.IsProtected,
		FolderID:    l.FolderID,
		ClickCount:  l.ClickCount,
		CreatedAt:   l.CreatedAt,
		ModifiedAt:  l.ModifiedAt,
	}
}

func (h *LinksHandler) toResponses(in []links.ShortLink) []linkResponse {
	out := make([]linkResponse, 0, len(in))
	for i := range in {
		out = append(out, h.toResponse(&in[i]))
	}
	return out
}

func (h *LinksHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if err := httputils.DecodeJSON(w, r, &req); err != nil {
		httputils.WriteAPIError(w, r, constants.ErrInvalidRequestBody)
		return
	}
	if err := appvalidation.Validate(req); err != nil {
		httputils.WriteAPIError(w, r, createValidationError(err))
		return
	}

	link, err := h.svc.CreateLink(r.Context(), links.CreateLinkInput{
		URL:       req.URL,
		OwnerID:   middleware.OwnerFromContext(r.Context()),
		Slug:      req.Slug,
		Protected: req.Protected,
		Secret:    req.Secret,
	})
	if err != nil {
		writeLinkError(w, r, err, "failed to create link")
		return
	}

	httputils.WriteAPISuccess(w, r, constants.SuccessLinkCreated, h.toResponse(link))
}

func createValidationError(err error) constants.APIError {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		for _, e := range validationErrs {
			switch e.Field() {
			case "url":
				return constants.ErrInvalidURL
			case "slug":
				return constants.ErrInvalidSlug
			case "secret":
				return constants.ErrInvalidSecret
			}
		}
	}
	return constants.ErrInvalidRequestBody
}

// List returns the caller's links. ?folder=<id> narrows to one folder and
// ?folder=none to unassigned links.
func (h *LinksHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := links.ListFilter{OwnerID: middleware.OwnerFromContext(r.Context())}
	if r.URL.Query().Has("folder") {
		filter.ByFolder = true
		if folder := strings.TrimSpace(r.URL.Query().Get("folder")); folder != "none" {
			filter.FolderID = folder
		}
	}

	result, err := h.svc.ListLinks(r.Context(), filter)
	if err != nil {
		writeLinkError(w, r, err, "failed to list links")
		return
	}

	httputils.WriteAPISuccess(w, r, constants.SuccessLinksListed, h.toResponses(result))
}

func (h *LinksHandler) Get(w http.ResponseWriter, r *http.Request) {
	link, ok := h.ownedLink(w, r)
	if !ok {
		return
	}
	httputils.WriteAPISuccess(w, r, constants.SuccessLinkFound, h.toResponse(link))
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (h *LinksHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := httputils.DecodeJSON(w, r, &req); err != nil || appvalidation.Validate(req) != nil {
		httputils.WriteAPIError(w, r, constants.ErrInvalidRequestBody.WithMessage("active (boolean) is required"))
		return
	}

	link, ok := h.ownedLink(w, r)
	if !ok {
		return
	}
	if err := h.svc.SetActive(r.Context(), link.ID, *req.Active); err != nil {
		writeLinkError(w, r, err, "failed to update link")
		return
	}
	h.writeFresh(w, r, link.ID)
}

type setProtectionRequest struct {
	Protected *bool  `json:"protected" validate:"required"`
	Secret    string `json:"secret,omitempty" validate:"max=128"`
}

func (h *LinksHandler) SetProtection(w http.ResponseWriter, r *http.Request) {
	var req setProtectionRequest
	if err := httputils.DecodeJSON(w, r, &req); err != nil {
		httputils.WriteAPIError(w, r, constants.ErrInvalidRequestBody)
		return
	}
	if err := appvalidation.Validate(req); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) && validationErrs[0].Field() == "secret" {
			httputils.WriteAPIError(w, r, constants.ErrInvalidSecret)
			return
		}
		httputils.WriteAPIError(w, r, constants.ErrInvalidRequestBody.WithMessage("protected (boolean) is required"))
		return
	}

	link, ok := h.ownedLink(w, r)
	if !ok {
		return
	}
	if err := h.svc.SetProtection(r.Context(), link.ID, *req.Protected, req.Secret); err != nil {
		writeLinkError(w, r, err, "failed to update link protection")
		return
	}
	h.writeFresh(w, r, link.ID)
}

func (h *LinksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	link, ok := h.ownedLink(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteLink(r.Context(), link.ID); err != nil && !errors.Is(err, links.ErrNotFound) {
		writeLinkError(w, r, err, "failed to delete link")
		return
	}
	httputils.WriteNoContent(w, r)
}

type unlockRequest struct {
	Secret *string `json:"secret" validate:"required"`
}

type unlockResponse struct {
	Target string `json:"target"`
}

// Unlock reveals a protected link's destination to a caller presenting its
// secret. Unprotected links answer with their destination as well.
func (h *LinksHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if err := httputils.DecodeJSON(w, r, &req); err != nil || appvalidation.Validate(req) != nil {
		httputils.WriteAPIError(w, r, constants.ErrInvalidRequestBody.WithMessage("secret is required"))
		return
	}

	id := r.PathValue("id")
	_, out, err := h.svc.Open(r.Context(), id, req.Secret)
	if err != nil {
		writeLinkError(w, r, err, "failed to unlock link")
		return
	}

	switch out.Status {
	case links.StatusRedirect:
		h.recordClick(r, id)
		httputils.WriteAPISuccess(w, r, constants.SuccessLinkUnlocked, unlockResponse{Target: out.Target})
	case links.StatusDenied:
		httputils.WriteAPIError(w, r, constants.ErrLinkDenied)
	default:
		httputils.WriteAPIError(w, r, constants.ErrLinkLocked)
	}
}

func (h *LinksHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	_, out, err := h.svc.Open(r.Context(), id, nil)
	if err != nil {
		switch {
		case errors.Is(err, links.ErrNotFound):
			http.NotFound(w, r)
		case errors.Is(err, links.ErrInactive):
			w.WriteHeader(http.StatusGone)
		default:
			logger.Error("failed to resolve link", zap.Error(err), zap.String("link_id", id))
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	if out.Status != links.StatusRedirect {
		httputils.WriteAPIError(w, r, constants.ErrLinkLocked)
		return
	}

	h.recordClick(r, id)

	if h.fastRedirect {
		w.Header().Set("Location", out.Target)
		w.WriteHeader(h.cfg.Shortener.RedirectStatus)
		return
	}
	http.Redirect(w, r, out.Target, h.cfg.Shortener.RedirectStatus)
}

func (h *LinksHandler) recordClick(r *http.Request, id string) {
	if h.asyncClick {
		go func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.clickTimeout)
			defer cancel()
			if err := h.svc.RecordClick(ctx, id); err != nil {
				logger.Warn("failed to record click", zap.Error(err), zap.String("link_id", id))
			}
		}()
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.clickTimeout)
	defer cancel()
	if err := h.svc.RecordClick(ctx, id); err != nil {
		logger.Warn("failed to record click", zap.Error(err), zap.String("link_id", id))
	}
}

type statsResponse struct {
	ID    string             `json:"id"`
	From  string             `json:"from"`
	To    string             `json:"to"`
	Total int64              `json:"total"`
	Daily []links.DailyCount `json:"daily"`
}

type statsQueryParams struct {
	From string `json:"from" validate:"required,datetime=2006-01-02"`
	To   string `json:"to" validate:"required,datetime=2006-01-02"`
}

func (h *LinksHandler) Stats(w http.ResponseWriter, r *http.Request) {
	fromRaw := r.URL.Query().Get("from")
	toRaw := r.URL.Query().Get("to")
	if err := appvalidation.Validate(statsQueryParams{From: fromRaw, To: toRaw}); err != nil {
		apiErr := constants.ErrInvalidRequestBody
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			for _, e := range validationErrs {
				if e.Tag() == "required" {
					apiErr = apiErr.WithMessage("from and to are required (YYYY-MM-DD)")
					break
				}
				if e.Field() == "from" && e.Tag() == "datetime" {
					apiErr = apiErr.WithMessage("invalid from (YYYY-MM-DD)")
					break
				}
				if e.Field() == "to" && e.Tag() == "datetime" {
					apiErr = apiErr.WithMessage("invalid to (YYYY-MM-DD)")
					break
				}
			}
		}
		httputils.WriteAPIError(w, r, apiErr)
		return
	}

	from, err := time.Parse(time.DateOnly, fromRaw)
	if err != nil {
		httputils.WriteAPIError(w, r, constants.ErrInvalidRequestBody.WithMessage("invalid from (YYYY-MM-DD)"))
		return
	}
	to, err := time.Parse(time.DateOnly, toRaw)
	if err != nil {
		httputils.WriteAPIError(w, r, constants.ErrInvalidRequestBody.WithMessage("invalid to (YYYY-MM-DD)"))
		return
	}
	if to.Sub(from) > maxStatsDays*24*time.Hour {
		httputils.WriteAPIError(w, r, constants.ErrInvalidRange.WithMessage("range must not exceed 366 days"))
		return
	}

	link, ok := h.ownedLink(w, r)
	if !ok {
		return
	}

	daily, err := h.svc.GetStats(r.Context(), link.ID, from, to)
	if err != nil {
		writeLinkError(w, r, err, "failed to fetch stats")
		return
	}

	var total int64
	for _, d := range daily {
		total += d.Count
	}

	httputils.WriteAPISuccess(w, r, constants.SuccessStatsFound, statsResponse{
		ID:    link.ID,
		From:  from.Format(time.DateOnly),
		To:    to.Format(time.DateOnly),
		Total: total,
		Daily: daily,
	})
}

// ownedLink loads the {id} link and answers 404 when it is missing or owned
// by someone else.
func (h *LinksHandler) ownedLink(w http.ResponseWriter, r *http.Request) (*links.ShortLink, bool) {
	link, err := h.svc.GetLink(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLinkError(w, r, err, "failed to load link")
		return nil, false
	}
	if link.OwnerID != middleware.OwnerFromContext(r.Context()) {
		httputils.WriteAPIError(w, r, constants.ErrLinkNotFound)
		return nil, false
	}
	return link, true
}

func (h *LinksHandler) writeFresh(w http.ResponseWriter, r *http.Request, id string) {
	link, err := h.svc.GetLink(r.Context(), id)
	if err != nil {
		writeLinkError(w, r, err, "failed to reload link")
		return
	}
	httputils.WriteAPISuccess(w, r, constants.SuccessLinkUpdated, h.toResponse(link))
}

func writeLinkError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, links.ErrNotFound):
		httputils.WriteAPIError(w, r, constants.ErrLinkNotFound)
	case errors.Is(err, links.ErrInactive):
		httputils.WriteAPIError(w, r, constants.ErrLinkInactive)
	case errors.Is(err, links.ErrInvalidURL):
		httputils.WriteAPIError(w, r, constants.ErrInvalidURL)
	case errors.Is(err, links.ErrInvalidSlug):
		httputils.WriteAPIError(w, r, constants.ErrInvalidSlug)
	case errors.Is(err, links.ErrInvalidSecret):
		httputils.WriteAPIError(w, r, constants.ErrInvalidSecret)
	case errors.Is(err, links.ErrInvalidRange):
		httputils.WriteAPIError(w, r, constants.ErrInvalidRange.WithMessage("from must be <= to"))
	case errors.Is(err, links.ErrSlugTaken):
		httputils.WriteAPIError(w, r, constants.ErrSlugTaken)
	case errors.Is(err, links.ErrInvalidOwner):
		httputils.WriteAPIError(w, r, constants.ErrMissingOwner)
	default:
		logger.Error(msg, zap.Error(err), zap.String("path", r.URL.Path))
		httputils.WriteAPIError(w, r, constants.ErrInternalError)
	}
}
