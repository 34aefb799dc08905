package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostel-outpass-api/internal/service"
	appErrors "github.com/noah-isme/hostel-outpass-api/pkg/errors"
	"github.com/noah-isme/hostel-outpass-api/pkg/response"
)

// CertificateHandler exposes approval certificates and gate verification.
type CertificateHandler struct {
	service *service.CertificateService
}

// NewCertificateHandler creates a new handler.
func NewCertificateHandler(svc *service.CertificateService) *CertificateHandler {
	return &CertificateHandler{service: svc}
}

// Verify godoc
// @Summary Verify approval number
// @Description Check an approval number at the gate; unknown numbers report invalid rather than erroring
// @Tags Certificates
// @Produce json
// @Param number path string true "Approval number"
// @Success 200 {object} response.Envelope
// @Router /certificates/verify/{number} [get]
func (h *CertificateHandler) Verify(c *gin.Context) {
	result, err := h.service.Verify(c.Request.Context(), c.Param("number"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Get godoc
// @Summary Get certificate
// @Description Fetch a certificate by ID; students can only read their own
// @Tags Certificates
// @Produce json
// @Security BearerAuth
// @Param id path string true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /certificates/{id} [get]
func (h *CertificateHandler) Get(c *gin.Context) {
	cert, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cert, nil)
}

// ListMine godoc
// @Summary List my certificates
// @Description List certificates issued to the current student
// @Tags Certificates
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max results"
// @Success 200 {object} response.Envelope
// @Router /certificates [get]
func (h *CertificateHandler) ListMine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	certs, err := h.service.ListForStudent(c.Request.Context(), claims.UserID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, certs, nil)
}

// Download godoc
// @Summary Download certificate PDF
// @Description Render the printable gate pass with embedded verification QR code
// @Tags Certificates
// @Produce application/pdf
// @Security BearerAuth
// @Param id path string true "Certificate ID"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /certificates/{id}/pdf [get]
func (h *CertificateHandler) Download(c *gin.Context) {
	data, filename, err := h.service.RenderPDF(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/pdf", data)
}
