package handler

import (
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostel-outpass-api/internal/service"
	appErrors "github.com/noah-isme/hostel-outpass-api/pkg/errors"
	"github.com/noah-isme/hostel-outpass-api/pkg/response"
	"github.com/noah-isme/hostel-outpass-api/pkg/storage"
)

// ImportHandler exposes the bulk student import pipeline.
type ImportHandler struct {
	service        *service.ImportService
	storage        *storage.LocalStorage
	signer         *storage.SignedURLSigner
	maxUploadBytes int64
}

// NewImportHandler creates a new handler.
func NewImportHandler(svc *service.ImportService, store *storage.LocalStorage, signer *storage.SignedURLSigner, maxUploadBytes int64) *ImportHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 5 << 20
	}
	return &ImportHandler{service: svc, storage: store, signer: signer, maxUploadBytes: maxUploadBytes}
}

// Upload godoc
// @Summary Bulk import students
// @Description Upload a CSV roster; each valid row becomes a pending account with a generated default password
// @Tags Import
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "CSV roster"
// @Param warden_id formData string true "Warden to assign imported students to"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /users/import [post]
func (h *ImportHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "a CSV file is required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read uploaded file"))
		return
	}
	defer file.Close() //nolint:errcheck

	summary, err := h.service.Run(c.Request.Context(), file, c.PostForm("warden_id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	meta := map[string]interface{}{}
	if summary.ResultFile != "" && h.signer != nil {
		if token, expires, err := h.signer.Generate("import", summary.ResultFile); err == nil {
			meta["result_download_token"] = token
			meta["result_download_expires"] = expires
		}
	}
	if summary.CredentialFile != "" && h.signer != nil {
		if token, _, err := h.signer.Generate("import", summary.CredentialFile); err == nil {
			meta["credential_download_token"] = token
		}
	}
	response.JSON(c, http.StatusOK, summary, nil, meta)
}

// Template godoc
// @Summary Download import template
// @Description Download the CSV template with the expected roster columns
// @Tags Import
// @Produce text/csv
// @Security BearerAuth
// @Success 200 {file} binary
// @Router /users/import/template [get]
func (h *ImportHandler) Template(c *gin.Context) {
	data, err := h.service.Template()
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="student-import-template.csv"`)
	c.Data(http.StatusOK, "text/csv", data)
}

// DownloadResult godoc
// @Summary Download import results
// @Description Stream a previously generated import result file via its signed token
// @Tags Import
// @Produce text/csv
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /users/import/results [get]
func (h *ImportHandler) DownloadResult(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	_, relPath, _, err := h.signer.Parse(token, false)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token"))
		return
	}
	file, err := h.storage.Open(relPath)
	if err != nil {
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	contentType := "text/csv"
	if strings.HasSuffix(relPath, ".pdf") {
		contentType = "application/pdf"
	}
	c.Header("Content-Disposition", `attachment; filename="`+path.Base(relPath)+`"`)
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
}
