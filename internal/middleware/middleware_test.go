package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"medassist-go/pkg/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func router(m *token.JWTManager) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(), ServiceAuth(m))
	r.POST("/agent", func(c *gin.Context) {
		var body map[string]string
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"echo": body["text"]})
	})
	return r
}

func do(r http.Handler, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/agent", strings.NewReader(`{"text":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestServiceAuthDisabled(t *testing.T) {
	w := do(router(nil), "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"echo":"hi"`) {
		t.Fatalf("%d %s", w.Code, w.Body.String())
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("request id header missing")
	}
}

func TestServiceAuthVerifiesToken(t *testing.T) {
	m := token.NewJWTManager("secret", "orchestrator", 5)
	r := router(m)

	if w := do(r, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing header: %d", w.Code)
	}
	other, _ := token.NewJWTManager("other", "orchestrator", 5).GenerateServiceToken("parser")
	if w := do(r, "Bearer "+other); w.Code != http.StatusUnauthorized {
		t.Fatalf("foreign token: %d", w.Code)
	}

	tok, err := m.GenerateServiceToken("parser")
	if err != nil {
		t.Fatal(err)
	}
	if w := do(r, "Bearer "+tok); w.Code != http.StatusOK {
		t.Fatalf("valid token: %d %s", w.Code, w.Body.String())
	}
}

func TestRequestLoggerKeepsBodyAndRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/agent", strings.NewReader(`{"text":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	router(nil).ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), `"echo":"hello"`) {
		t.Fatalf("body not restored: %s", w.Body.String())
	}
	if w.Header().Get(RequestIDHeader) != "req-1" {
		t.Errorf("request id = %q", w.Header().Get(RequestIDHeader))
	}
	if got := truncate([]byte(strings.Repeat("x", maxLoggedBody+10))); len(got) != maxLoggedBody+3 {
		t.Errorf("truncate len = %d", len(got))
	}
}
