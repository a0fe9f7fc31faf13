package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestCronSecret(t *testing.T) {
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	tests := []struct {
		name     string
		secret   string
		provided string
		want     int
	}{
		{"matching", "s3cret", "s3cret", http.StatusOK},
		{"wrong", "s3cret", "nope", http.StatusUnauthorized},
		{"missing header", "s3cret", "", http.StatusUnauthorized},
		{"unconfigured secret", "", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/cron/autosend", nil)
			if tt.provided != "" {
				req.Header.Set(CronSecretHeader, tt.provided)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			_ = CronSecret(tt.secret)(ok)(c)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
