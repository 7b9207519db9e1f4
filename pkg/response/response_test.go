package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/dealpoint/commission-api/internal/types"
)

func record(t *testing.T, method string, data interface{}, err error) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, "/", nil)

	Handle(c, data, err)

	var body Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return w, body
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid input", types.ErrInvalidInput, http.StatusBadRequest, ErrCodeBadRequest},
		{"wrapped invalid input", fmt.Errorf("%w: fee must not be negative", types.ErrInvalidInput), http.StatusBadRequest, ErrCodeBadRequest},
		{"deal not found", types.ErrDealNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"payment not found", types.ErrPaymentNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"gorm record not found", gorm.ErrRecordNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"template sum exceeded", types.ErrTemplateSumExceeded, http.StatusUnprocessableEntity, ErrCodeValidationFailed},
		{"invariant violation", types.ErrInvariantViolation, http.StatusInternalServerError, ErrCodeInvariantBroken},
		{"unknown error", fmt.Errorf("boom"), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := record(t, "GET", nil, tt.err)
			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if body.Success {
				t.Error("expected success=false")
			}
			if body.Error == nil || body.Error.Code != tt.wantCode {
				t.Errorf("expected error code %s, got %+v", tt.wantCode, body.Error)
			}
		})
	}

	t.Run("success on GET", func(t *testing.T) {
		w, body := record(t, "GET", map[string]string{"deal_id": "DEAL_1"}, nil)
		if w.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", w.Code)
		}
		if !body.Success {
			t.Error("expected success=true")
		}
	})

	t.Run("success on POST is 201", func(t *testing.T) {
		w, _ := record(t, "POST", map[string]string{"deal_id": "DEAL_1"}, nil)
		if w.Code != http.StatusCreated {
			t.Errorf("expected 201, got %d", w.Code)
		}
	})
}
