package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsCode(t *testing.T) {
	base := errors.New("connection refused")
	tests := []struct {
		name string
		err  error
		code string
		want bool
	}{
		{"input", Input("empty file"), CodeInputError, true},
		{"wrapped dependency", fmt.Errorf("send: %w", Dependency("notifier", base)), CodeDependencyError, true},
		{"mismatch", NotFound("request"), CodeInputError, false},
		{"plain error", base, CodeInternalError, false},
		{"nil", nil, CodeNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCode(tt.err, tt.code); got != tt.want {
				t.Errorf("IsCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Input("bad"), http.StatusBadRequest},
		{NotFound("document"), http.StatusNotFound},
		{InvalidState("closed"), http.StatusConflict},
		{Dependency("qdrant", nil), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := GetHTTPStatus(tt.err); got != tt.want {
			t.Errorf("GetHTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	base := errors.New("timeout")
	err := Dependency("gmail", base)
	if !errors.Is(err, base) {
		t.Error("expected wrapped error to be reachable through errors.Is")
	}
	if got := err.Error(); got != "[DEPENDENCY_ERROR] dependency error: gmail: timeout" {
		t.Errorf("Error() = %q", got)
	}
}
