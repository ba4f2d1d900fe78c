package middlewares_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"bitbucket.org/mmdatafocus/photoid_backend/appctx"
	"bitbucket.org/mmdatafocus/photoid_backend/middlewares"
	"bitbucket.org/mmdatafocus/photoid_backend/utils"
	"github.com/gin-gonic/gin"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middlewares.AuthMiddleware())
	r.GET("/admin", middlewares.RequirePhotoIDManager(), func(c *gin.Context) {
		id, name, _ := middlewares.StaffFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"id": id, "name": name})
	})
	r.GET("/open", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func doRequest(r *gin.Engine, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAnonymousRequestsPassThrough(t *testing.T) {
	r := newTestRouter()
	if w := doRequest(r, "/open", ""); w.Code != http.StatusNoContent {
		t.Fatalf("open endpoint = %d", w.Code)
	}
	// but the gated endpoint rejects them
	if w := doRequest(r, "/admin", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("gated endpoint without token = %d", w.Code)
	}
}

func TestManagerTokenGrantsAccess(t *testing.T) {
	r := newTestRouter()
	token, err := utils.JwtGenerate(5, "Reviewer", []string{"manage_photo_id"})
	if err != nil {
		t.Fatal(err)
	}
	w := doRequest(r, "/admin", "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("manager token = %d, body %s", w.Code, w.Body.String())
	}
}

func TestBearerTokenAttachedToContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middlewares.AuthMiddleware())

	var gotToken string
	r.GET("/whoami", func(c *gin.Context) {
		gotToken, _ = appctx.GetString(c.Request.Context(), appctx.ContextKeyToken)
		c.Status(http.StatusNoContent)
	})

	token, err := utils.JwtGenerate(5, "Reviewer", []string{"manage_photo_id"})
	if err != nil {
		t.Fatal(err)
	}
	if w := doRequest(r, "/whoami", "Bearer "+token); w.Code != http.StatusNoContent {
		t.Fatalf("request = %d", w.Code)
	}
	if gotToken != token {
		t.Fatalf("context token = %q, want the bearer token", gotToken)
	}
}

func TestManageStoreImpliesPhotoIDAccess(t *testing.T) {
	r := newTestRouter()
	token, err := utils.JwtGenerate(1, "Owner", []string{"manage_store"})
	if err != nil {
		t.Fatal(err)
	}
	if w := doRequest(r, "/admin", "Bearer "+token); w.Code != http.StatusOK {
		t.Fatalf("store owner token = %d", w.Code)
	}
}

func TestTokenWithoutCapabilityIsForbidden(t *testing.T) {
	r := newTestRouter()
	token, err := utils.JwtGenerate(9, "Packer", []string{"pack_orders"})
	if err != nil {
		t.Fatal(err)
	}
	if w := doRequest(r, "/admin", "Bearer "+token); w.Code != http.StatusForbidden {
		t.Fatalf("capability-less token = %d", w.Code)
	}
}

func TestMalformedTokensRejected(t *testing.T) {
	r := newTestRouter()
	for _, header := range []string{
		"Bearer not-a-jwt",
		"Basic dXNlcjpwYXNz",
		"Bearer ",
	} {
		if w := doRequest(r, "/admin", header); w.Code != http.StatusUnauthorized {
			t.Fatalf("header %q = %d", header, w.Code)
		}
	}
}
