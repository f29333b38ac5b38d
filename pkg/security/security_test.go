package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRateLimiterPerKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimiter(2, time.Minute, func(c *gin.Context) string { return c.GetHeader("X-Learner") }))
	r.POST("/submit", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(learner string) int {
		req := httptest.NewRequest(http.MethodPost, "/submit", nil)
		req.Header.Set("X-Learner", learner)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("a"); code != http.StatusOK {
			t.Fatalf("request %d: %d", i, code)
		}
	}
	if code := send("a"); code != http.StatusTooManyRequests {
		t.Fatalf("burst exceeded: got %d", code)
	}
	if code := send("b"); code != http.StatusOK {
		t.Fatalf("other learner should not be limited: %d", code)
	}
}

func TestCORSWhitelist(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"https://lms.example.com"}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://lms.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "https://lms.example.com" {
		t.Fatalf("preflight: %d %v", w.Code, w.Header())
	}
}
