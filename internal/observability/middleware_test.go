package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/drawctl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestRequestLoggerQuietPathsAndRouteLabels(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)
	r := gin.New()
	r.Use(RequestLogger(logger, "/health"))
	r.Use(RequestMetricsMiddleware("test"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/peer", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve := func(path string) {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	serve("/health")
	if buf.Len() != 0 {
		t.Fatalf("quiet path logged at info: %s", buf.String())
	}

	serve("/peer")
	if !strings.Contains(buf.String(), `"path":"/peer"`) || !strings.Contains(buf.String(), `"message":"http.request"`) {
		t.Fatalf("expected request line, got %s", buf.String())
	}

	buf.Reset()
	serve("/no/such/route/42")
	out := buf.String()
	if !strings.Contains(out, `"path":"unmatched"`) || !strings.Contains(out, `"level":"warn"`) {
		t.Fatalf("expected unmatched warn line, got %s", out)
	}
}
