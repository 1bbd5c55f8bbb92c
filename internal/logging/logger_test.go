package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	testCases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" INFO ":  zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	}
	for input, expected := range testCases {
		if level := ParseLevel(input); level != expected {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, level, expected)
		}
	}
}

func TestRequestLoggerLevelsByStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)

	router := gin.New()
	router.Use(RequestLogger(zap.New(core)))
	router.GET("/ok/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/boom", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	for _, target := range []string{"/ok/7", "/boom", "/missing"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 access entries, got %d", len(entries))
	}
	expected := []struct {
		level zapcore.Level
		path  string
	}{
		{zapcore.InfoLevel, "/ok/:id"},
		{zapcore.ErrorLevel, "/boom"},
		{zapcore.WarnLevel, "/missing"},
	}
	for index, entry := range entries {
		if entry.Level != expected[index].level {
			t.Fatalf("entry %d: expected level %v, got %v", index, expected[index].level, entry.Level)
		}
		if path := entry.ContextMap()["path"]; path != expected[index].path {
			t.Fatalf("entry %d: expected path %q, got %v", index, expected[index].path, path)
		}
	}
}
