package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without wrapped error",
			err:  New(CodeUploadNotFound, "upload not found", http.StatusNotFound),
			want: "UPLOAD_NOT_FOUND: upload not found",
		},
		{
			name: "with wrapped error",
			err:  Wrap(fmt.Errorf("db error"), CodeInternal, "database failure", http.StatusInternalServerError),
			want: "INTERNAL_ERROR: database failure: db error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap(inner, "CODE", "msg", 500)

	if !errors.Is(appErr, inner) {
		t.Error("errors.Is should match inner error")
	}
}

func TestIsAppError(t *testing.T) {
	appErr := NotFound(CodeLicenseNotFound, "license not found")
	wrapped := fmt.Errorf("wrapped: %w", appErr)

	got, ok := IsAppError(wrapped)
	if !ok {
		t.Fatal("IsAppError should return true for wrapped AppError")
	}
	if got.Code != CodeLicenseNotFound {
		t.Errorf("Code = %q, want %s", got.Code, CodeLicenseNotFound)
	}

	if _, ok := IsAppError(fmt.Errorf("plain")); ok {
		t.Error("IsAppError should return false for plain errors")
	}
}

func TestAppError_WithParams(t *testing.T) {
	e := Conflict(CodeUsageLimitExceeded, "limit exceeded").WithParams(map[string]interface{}{"metric": "downloads"})
	if e.Params["metric"] != "downloads" {
		t.Errorf("Params[metric] = %v, want downloads", e.Params["metric"])
	}

	same := BadRequest("X", "y").WithParams(nil)
	if same.Params != nil {
		t.Errorf("Params = %v, want nil for empty params", same.Params)
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantStatus int
	}{
		{"NotFound", NotFound("NF", "not found"), http.StatusNotFound},
		{"BadRequest", BadRequest("BR", "bad request"), http.StatusBadRequest},
		{"TooManyRequests", TooManyRequests("TM", "limit"), http.StatusTooManyRequests},
		{"Forbidden", Forbidden("FB", "forbidden"), http.StatusForbidden},
		{"Conflict", Conflict("CF", "conflict"), http.StatusConflict},
		{"Internal", Internal("IE", "internal"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.HTTPStatus != tt.wantStatus {
				t.Errorf("HTTPStatus = %d, want %d", tt.err.HTTPStatus, tt.wantStatus)
			}
		})
	}
}

var (
	errMissing = errors.New("missing")
	errBusy    = errors.New("busy")
)

func TestRules_Map(t *testing.T) {
	rules := Rules{
		{Target: errMissing, Status: http.StatusNotFound},
		{Target: errBusy, Code: "BUSY", Status: http.StatusConflict},
	}

	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
		wantMsg    string
	}{
		{"fallback code", fmt.Errorf("upload u1: %w", errMissing), CodeUploadNotFound, http.StatusNotFound, "upload u1: missing"},
		{"own code", errBusy, "BUSY", http.StatusConflict, "busy"},
		{"unmapped hides detail", errors.New("pq: relation does not exist"), CodeInternal, http.StatusInternalServerError, internalMessage},
		{"app error passes through", Forbidden(CodeSelfApproval, "own request"), CodeSelfApproval, http.StatusForbidden, "own request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rules.Map(tt.err, CodeUploadNotFound)
			if got.Code != tt.wantCode || got.HTTPStatus != tt.wantStatus || got.Message != tt.wantMsg {
				t.Errorf("Map() = %s/%d/%q, want %s/%d/%q",
					got.Code, got.HTTPStatus, got.Message, tt.wantCode, tt.wantStatus, tt.wantMsg)
			}
			if !errors.Is(got, tt.err) && got.Err != nil {
				t.Errorf("Map() lost the wrapped error")
			}
		})
	}

	if rules.Map(nil, CodeUploadNotFound) != nil {
		t.Error("Map(nil) should be nil")
	}
}
