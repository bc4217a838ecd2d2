package api

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRateLimiterConcurrent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimiter(5))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	var ok, limited int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			req.RemoteAddr = "10.0.0.1:1234"
			router.ServeHTTP(w, req)

			switch w.Code {
			case http.StatusOK:
				atomic.AddInt32(&ok, 1)
			case http.StatusTooManyRequests:
				atomic.AddInt32(&limited, 1)
			default:
				t.Errorf("status = %d", w.Code)
			}
		}()
	}
	wg.Wait()

	if ok != 5 {
		t.Errorf("allowed = %d, want 5", ok)
	}
	if limited != 15 {
		t.Errorf("limited = %d, want 15", limited)
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimiter(1))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(addr string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = addr
		router.ServeHTTP(w, req)
		return w.Code
	}

	if code := call("10.0.0.1:1234"); code != http.StatusOK {
		t.Errorf("first call = %d", code)
	}
	if code := call("10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Errorf("second call = %d, want limited", code)
	}
	// A different client has its own budget.
	if code := call("10.0.0.2:1234"); code != http.StatusOK {
		t.Errorf("other client = %d", code)
	}
}
