package middleware

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-outpass-api/internal/models"
	"github.com/noah-isme/hostel-outpass-api/internal/repository"
)

func newAuditRouter(t *testing.T, status int) (*gin.Engine, sqlmock.Sqlmock, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	repo := repository.NewUserRepository(sqlx.NewDb(db, "sqlmock"))

	router := gin.New()
	router.GET("/certificates/:id/pdf",
		func(c *gin.Context) {
			c.Set(ContextUserKey, &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent})
		},
		Audit(repo, models.AuditActionCertDownload, "approval_certificates"),
		func(c *gin.Context) { c.Status(status) },
	)
	return router, mock, func() { db.Close() }
}

func TestAuditWritesSingleEntryOnSuccess(t *testing.T) {
	router, mock, cleanup := newAuditRouter(t, http.StatusOK)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/certificates/req-1/pdf", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet(), "expected exactly one trail row per request")
}

func TestAuditSkipsFailedRequests(t *testing.T) {
	router, mock, cleanup := newAuditRouter(t, http.StatusForbidden)
	defer cleanup()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/certificates/req-1/pdf", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
