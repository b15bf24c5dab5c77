package logx

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnonymizeIP(t *testing.T) {
	tests := map[string]string{
		"203.0.113.42:5555":       "203.0.113.0",
		"198.51.100.7":            "198.51.100.0",
		"[::1]:8080":              "127.0.0.1",
		"2001:db8:abcd:12::1":     "2001:db8:abcd:12::",
		"not-an-ip":               "unknown_ip",
		"[2001:db8::ff00:42]:443": "2001:db8::",
	}

	for in, want := range tests {
		assert.Equal(t, want, anonymizeIP(in), in)
	}
}

func TestRequestLogger_LogsStatus(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	handler := middleware.RequestID(RequestLogger()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/brew", nil)
	req.RemoteAddr = "192.0.2.10:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, float64(http.StatusTeapot), line["status"])
	assert.Equal(t, "192.0.2.0", line["remote_ip"])
	assert.Equal(t, "http", line["component"])
}

func TestCheckFields_OddCountDropped(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	assert.Nil(t, checkFields("Info", []any{"key"}))
	assert.Len(t, checkFields("Info", []any{"key", 1}), 2)
}
