package response

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/license-sync/internal/models"
	"github.com/magabrotheeeer/license-sync/internal/remote"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
		wantCode   string
	}{
		{
			name:       "wrapped domain error",
			err:        fmt.Errorf("license.Activate: %w", models.ErrLicenseMismatch),
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  models.ErrLicenseMismatch.Error(),
		},
		{
			name:       "expired transfer",
			err:        models.ErrTransferExpired,
			wantStatus: http.StatusGone,
			wantError:  models.ErrTransferExpired.Error(),
		},
		{
			name:       "transport failure",
			err:        &remote.Error{Kind: remote.KindTransport, Err: errors.New("dial tcp: timeout")},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "remote validation",
			err:        fmt.Errorf("op: %w", &remote.Error{Kind: remote.KindValidation, Code: "invalid_license_key", Message: "Invalid license key.", Status: 400}),
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "Invalid license key.",
			wantCode:   "invalid_license_key",
		},
		{
			name:       "unknown error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := FromError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, StatusError, resp.Status)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, resp.Error)
			}
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}
