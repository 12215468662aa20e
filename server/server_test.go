package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"iap2accessory/analytics"
	"iap2accessory/csm/catalogue"
	"iap2accessory/session"
	"iap2accessory/tracelog"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	sessions := session.NewManager(4, nil, nil)
	tracker := analytics.NewTracker("")
	writer := tracelog.NewWriter(t.TempDir(), 0)
	return New(0, sessions, tracker, writer, "test-version")
}

func TestHandleVersion(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "test-version", body["version"])
}

func TestHandleListSessionsEmpty(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Empty(t, body)
}

func TestHandleSessionStatusUnknown(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/missing/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSessionAnalyticsRecorded(t *testing.T) {
	s := newTestServer(t)
	s.analytics.RecordConnect("accessory-1")
	s.analytics.RecordMessage("accessory-1", &catalogue.IdentificationAccepted{})

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/accessory-1/analytics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got analytics.SessionAnalytics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "accessory-1", got.Name)
	require.Equal(t, 1, got.MessageCounts["0x1D02"])
}

func TestHandleListTraceEmpty(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/accessory-1/trace", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "accessory-1", body["session"])
}

func TestHandleListTraceRejectsPathTraversal(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/accessory-1/trace?file=../../etc/passwd", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
