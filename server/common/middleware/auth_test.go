package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"desk_server/server/common/auth"
)

func newTestRouter(svc *auth.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", AuthRequired(svc), RequireCompany(), func(c *gin.Context) {
		identity, _ := IdentityFrom(c)
		c.JSON(http.StatusOK, gin.H{"user_id": identity.UserID, "company_id": identity.CompanyID})
	})
	return r
}

func TestAuthRequired(t *testing.T) {
	svc := auth.NewService("secret", 5)
	r := newTestRouter(svc)
	company := int64(3)
	withCompany, _ := svc.GenerateToken(9, &company)
	noCompany, _ := svc.GenerateToken(9, nil)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"no company", "Bearer " + noCompany, http.StatusForbidden},
		{"ok", "Bearer " + withCompany, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}
