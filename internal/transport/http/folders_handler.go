package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/IgorGrieder/zurl/internal/constants"
	"github.com/IgorGrieder/zurl/internal/infrastructure/logger"
	appvalidation "github.com/IgorGrieder/zurl/internal/infrastructure/validation"
	"github.com/IgorGrieder/zurl/internal/processing/folders"
	"github.com/IgorGrieder/zurl/internal/transport/http/middleware"
	"github.com/IgorGrieder/zurl/pkg/httputils"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type FoldersHandler struct {
	coord *folders.Coordinator
	links *LinksHandler
}

func NewFoldersHandler(coord *folders.Coordinator, linksHandler *LinksHandler) *FoldersHandler {
	return &FoldersHandler{coord: coord, links: linksHandler}
}

type createFolderRequest struct {
	Name    string   `json:"name" validate:"required,notblank,max=100"`
	LinkIDs []string `json:"linkIds,omitempty" validate:"max=500,dive,required"`
}

type renameFolderRequest struct {
	Name string `json:"name" validate:"required,notblank,max=100"`
}

type addLinksRequest struct {
	LinkIDs []string `json:"linkIds" validate:"required,min=1,max=500,dive,required"`
}

type folderResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	LinkCount  *int      `json:"linkCount,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

type folderDetailResponse struct {
	folderResponse
	Links []linkResponse `json:"links"`
}

func toFolderResponse(f *folders.Folder) folderResponse {
	return folderResponse{
		ID:         f.ID,
		Name:       f.Name,
		CreatedAt:  f.CreatedAt,
		ModifiedAt: f.ModifiedAt,
	}
}

func (h *FoldersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createFolderRequest
	if err := httputils.DecodeJSON(w, r, &req); err != nil {
		httputils.WriteAPIError(w, r, constants.ErrInvalidRequestBody)
		return
	}
	if err := appvalidation.Validate(req); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) && validationErrs[0].Field() != "name" {
			httputils.WriteAPIError(w, r, constants.ErrInvalidRequestBody.WithMessage("linkIds must list at most 500 link ids"))
			return
		}
		httputils.WriteAPIError(w, r, constants.ErrInvalidFolderName)
		return
	}

	folder, err := h.coord.CreateFolder(r.Context(), req.Name, middleware.OwnerFromContext(r.Context()), req.LinkIDs)
	if err != nil {
		writeFolderError(w, r, err, "failed to create folder")
		return
	}

	h.writeDetail(w, r, folder, constants.SuccessFolderCreated)
}

func (h *FoldersHandler) List(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.coord.ListFolders(r.Context(), middleware.OwnerFromContext(r.Context()))
	if err != nil {
		writeFolderError(w, r, err, "failed to list folders")
		return
	}

	out := make([]folderResponse, 0, len(summaries))
	for i := range summaries {
		resp := toFolderResponse(&summaries[i].Folder)
		resp.LinkCount = &summaries[i].LinkCount
		out = append(out, resp)
	}
	httputils.WriteAPISuccess(w, r, constants.SuccessFoldersListed, out)
}

func (h *FoldersHandler) Get(w http.ResponseWriter, r *http.Request) {
	folder, ok := h.ownedFolder(w, r)
	if !ok {
		return
	}
	h.writeDetail(w, r, folder, constants.SuccessFolderFound)
}

func (h *FoldersHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req renameFolderRequest
	if err := httputils.DecodeJSON(w, r, &req); err != nil {
		httputils.WriteAPIError(w, r, constants.ErrInvalidRequestBody)
		return
	}
	if err := appvalidation.Validate(req); err != nil {
		httputils.WriteAPIError(w, r, constants.ErrInvalidFolderName)
		return
	}

	folder, ok := h.ownedFolder(w, r)
	if !ok {
		return
	}
	if err := h.coord.RenameFolder(r.Context(), folder.ID, req.Name); err != nil {
		writeFolderError(w, r, err, "failed to rename folder")
		return
	}

	folder, err := h.coord.GetFolder(r.Context(), folder.ID)
	if err != nil {
		writeFolderError(w, r, err, "failed to reload folder")
		return
	}
	httputils.WriteAPISuccess(w, r, constants.SuccessFolderUpdated, toFolderResponse(folder))
}

// Delete answers 204 when the folder is gone afterwards, including when it
// never existed.
func (h *FoldersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	folder, err := h.coord.GetFolder(r.Context(), r.PathValue("id"))
	if errors.Is(err, folders.ErrNotFound) {
		httputils.WriteNoContent(w, r)
		return
	}
	if err != nil {
		writeFolderError(w, r, err, "failed to load folder")
		return
	}
	if folder.OwnerID != middleware.OwnerFromContext(r.Context()) {
		httputils.WriteAPIError(w, r, constants.ErrFolderNotFound)
		return
	}

	if err := h.coord.DeleteFolder(r.Context(), folder.ID); err != nil && !errors.Is(err, folders.ErrNotFound) {
		writeFolderError(w, r, err, "failed to delete folder")
		return
	}
	httputils.WriteNoContent(w, r)
}

func (h *FoldersHandler) AddLinks(w http.ResponseWriter, r *http.Request) {
	var req addLinksRequest
	if err := httputils.DecodeJSON(w, r, &req); err != nil || appvalidation.Validate(req) != nil {
		httputils.WriteAPIError(w, r, constants.ErrInvalidRequestBody.WithMessage("linkIds must list 1-500 link ids"))
		return
	}

	folder, ok := h.ownedFolder(w, r)
	if !ok {
		return
	}
	if err := h.coord.AddLinks(r.Context(), folder.ID, req.LinkIDs); err != nil {
		writeFolderError(w, r, err, "failed to add links to folder")
		return
	}
	h.writeDetail(w, r, folder, constants.SuccessFolderLinksUpdated)
}

func (h *FoldersHandler) RemoveLink(w http.ResponseWriter, r *http.Request) {
	folder, ok := h.ownedFolder(w, r)
	if !ok {
		return
	}
	if err := h.coord.RemoveLink(r.Context(), folder.ID, r.PathValue("linkId")); err != nil {
		writeFolderError(w, r, err, "failed to remove link from folder")
		return
	}
	httputils.WriteNoContent(w, r)
}

func (h *FoldersHandler) ownedFolder(w http.ResponseWriter, r *http.Request) (*folders.Folder, bool) {
	folder, err := h.coord.GetFolder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFolderError(w, r, err, "failed to load folder")
		return nil, false
	}
	if folder.OwnerID != middleware.OwnerFromContext(r.Context()) {
		httputils.WriteAPIError(w, r, constants.ErrFolderNotFound)
		return nil, false
	}
	return folder, true
}

func (h *FoldersHandler) writeDetail(w http.ResponseWriter, r *http.Request, folder *folders.Folder, success constants.APISuccess) {
	members, err := h.coord.FolderLinks(r.Context(), folder.ID)
	if err != nil {
		writeFolderError(w, r, err, "failed to load folder links")
		return
	}

	resp := folderDetailResponse{
		folderResponse: toFolderResponse(folder),
		Links:          h.links.toResponses(members),
	}
	count := len(members)
	resp.LinkCount = &count
	httputils.WriteAPISuccess(w, r, success, resp)
}

func writeFolderError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, folders.ErrNotFound):
		httputils.WriteAPIError(w, r, constants.ErrFolderNotFound)
	case errors.Is(err, folders.ErrLinkNotFound):
		httputils.WriteAPIError(w, r, constants.ErrLinkNotFound)
	case errors.Is(err, folders.ErrInvalidName):
		httputils.WriteAPIError(w, r, constants.ErrInvalidFolderName)
	case errors.Is(err, folders.ErrInvalidOwner):
		httputils.WriteAPIError(w, r, constants.ErrMissingOwner)
	case errors.Is(err, folders.ErrConflict):
		httputils.WriteAPIError(w, r, constants.ErrFolderConflict)
	default:
		logger.Error(msg, zap.Error(err), zap.String("path", r.URL.Path))
		httputils.WriteAPIError(w, r, constants.ErrInternalError)
	}
}
