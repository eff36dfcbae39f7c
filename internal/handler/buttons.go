package handler

import (
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/sakif/soundboard/internal/apperror"
	"github.com/sakif/soundboard/internal/audit"
	"github.com/sakif/soundboard/internal/service"
)

// maxUploadForm bounds the in-memory part of a button upload.
const maxUploadForm = 32 << 20

// ButtonHandler serves the shared catalog and categories.
type ButtonHandler struct {
	buttons *service.ButtonService
	logger  *slog.Logger
}

func NewButtonHandler(buttons *service.ButtonService, logger *slog.Logger) *ButtonHandler {
	return &ButtonHandler{buttons: buttons, logger: logger}
}

// HandleCatalog lists every button. A signed-in caller also gets is_linked.
//
// HTTP: GET /api/uploaded (optional auth)
func (h *ButtonHandler) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	buttons, err := h.buttons.Catalog(r.Context(), viewerID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", payload{"uploaded": buttons})
}

// HTTP: GET /api/user/uploaded
func (h *ButtonHandler) HandleMyUploads(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	buttons, err := h.buttons.UploadedBy(r.Context(), p.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", payload{"uploaded": buttons})
}

// HandleUpload creates a button from a multipart form with the files
// "image" and "sound" and the fields "ButtonName" and "CategoryName".
//
// HTTP: POST /api/buttons
func (h *ButtonHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := r.ParseMultipartForm(maxUploadForm); err != nil {
		writeError(w, r, h.logger, apperror.ValidationFailed("body", "Invalid upload"))
		return
	}

	in := service.UploadInput{
		Name:         formValue(r, "ButtonName", "buttonName"),
		CategoryName: formValue(r, "CategoryName", "categoryName"),
	}
	image, closeImage := formUpload(r, "image")
	defer closeImage()
	sound, closeSound := formUpload(r, "sound")
	defer closeSound()
	in.Image, in.Sound = image, sound

	res, err := h.buttons.Upload(r.Context(), p.ID, in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	audit.Annotate(r.Context(), "buttonId", res.Button.ID)
	audit.Annotate(r.Context(), "buttonName", res.Button.Name)
	audit.Annotate(r.Context(), "tri", res.Tri)
	writeOK(w, http.StatusCreated, "Button uploaded and linked successfully", payload{
		"button":   res.Button,
		"tri":      res.Tri,
		"imageUrl": res.Button.ImageURL,
		"soundUrl": res.Button.SoundURL,
	})
}

// formValue returns the first non-empty value among names.
func formValue(r *http.Request, names ...string) string {
	for _, name := range names {
		if v := r.FormValue(name); v != "" {
			return v
		}
	}
	return ""
}

// formUpload opens a form file. The returned func closes it and is safe to
// call when the file is missing.
func formUpload(r *http.Request, field string) (*service.Upload, func()) {
	var (
		file   multipart.File
		header *multipart.FileHeader
		err    error
	)
	file, header, err = r.FormFile(field)
	if err != nil {
		return nil, func() {}
	}
	return &service.Upload{Filename: header.Filename, Body: file}, func() { file.Close() }
}

// HTTP: GET /api/categories
func (h *ButtonHandler) HandleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.buttons.Categories(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", payload{"categories": categories})
}

type categoryRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// HTTP: POST /api/categories
func (h *ButtonHandler) HandleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	c, err := h.buttons.CreateCategory(r.Context(), req.Name, req.Color)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	audit.Annotate(r.Context(), "categoryId", c.ID)
	audit.Annotate(r.Context(), "categoryName", c.Name)
	writeOK(w, http.StatusCreated, "Category created", payload{"category": c})
}
