package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fpauthd/internal/audit"
	"fpauthd/internal/coordinator"
	"fpauthd/internal/driver"
)

type fakeStatusSource struct {
	max  uint32
	info driver.SensorInfo
}

func (f fakeStatusSource) GetMaxTemplates() uint32   { return f.max }
func (f fakeStatusSource) Info() driver.SensorInfo { return f.info }

func silentLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func openTestAudit(t *testing.T) *audit.Log {
	t.Helper()
	log, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func TestHandleHealthz_ReportsOK(t *testing.T) {
	s := New(fakeStatusSource{}, nil, silentLogger(), "")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleStatus_ReportsSensorInfo(t *testing.T) {
	src := fakeStatusSource{max: 5, info: driver.SensorInfo{Vendor: "cros_fp", Product: "bloonchipper"}}
	s := New(src, nil, silentLogger(), "")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(5), body["template_max"])
	assert.Equal(t, "cros_fp", body["sensor_vendor"])
}

func TestHandleAudit_FiltersByUser(t *testing.T) {
	log := openTestAudit(t)
	require.NoError(t, log.RecordOutcome(coordinator.AuditRecord{
		Kind: coordinator.OperationMatch, UserID: 11, Outcome: "Success",
		StartedAt: time.Now(), FinishedAt: time.Now(),
	}))
	require.NoError(t, log.RecordOutcome(coordinator.AuditRecord{
		Kind: coordinator.OperationMatch, UserID: 22, Outcome: "NoMatch",
		StartedAt: time.Now(), FinishedAt: time.Now(),
	}))

	s := New(fakeStatusSource{}, log, silentLogger(), "")

	req := httptest.NewRequest(http.MethodGet, "/audit?user=11", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var rows []audit.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, uint32(11), rows[0].UserID)
}

func signedTestToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthMiddleware_RequiresValidBearerJWT(t *testing.T) {
	s := New(fakeStatusSource{}, nil, silentLogger(), "secret")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("Authorization", "Bearer "+signedTestToken(t, "secret"))
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
