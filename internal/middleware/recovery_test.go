package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("panic becomes JSON 500", func(t *testing.T) {
		router := gin.New()
		router.Use(Recovery())
		router.GET("/panic", func(c *gin.Context) { panic("test panic") })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/panic", nil))

		assert.Equal(t, 500, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Body.String(), "panic_recovered")
	})

	t.Run("panic after streaming started keeps partial body", func(t *testing.T) {
		router := gin.New()
		router.Use(Recovery())
		router.GET("/stream", func(c *gin.Context) {
			c.String(200, "data: partial\n\n")
			c.Writer.Flush()
			panic("mid-stream")
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/stream", nil))

		assert.Equal(t, 200, w.Code)
		assert.Equal(t, "data: partial\n\n", w.Body.String())
	})

	t.Run("custom writer is called", func(t *testing.T) {
		var got any
		router := gin.New()
		router.Use(RecoveryWithWriter(func(c *gin.Context, err any) { got = err }))
		router.GET("/panic", func(c *gin.Context) { panic("boom") })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/panic", nil))
		assert.Equal(t, "boom", got)
		assert.Equal(t, 500, w.Code)
	})
}

func TestSafeGo(t *testing.T) {
	done := make(chan struct{})
	SafeGo("test-goroutine", func() {
		defer close(done)
		panic("goroutine panic")
	})
	<-done

	ran := make(chan struct{})
	SafeGo("test-goroutine", func() { close(ran) })
	<-ran
}
