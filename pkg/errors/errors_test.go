package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found helper", NotFound("p1"), http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("related: %w", ErrNotFound), http.StatusNotFound},
		{"invalid argument helper", InvalidArgument("start %d after end %d", 2, 1), http.StatusBadRequest},
		{"wrapped validation", fmt.Errorf("upsert: %w", ErrValidation), http.StatusBadRequest},
		{"unavailable", ErrUnavailable, http.StatusServiceUnavailable},
		{"timeout", fmt.Errorf("load: %w", ErrTimeout), http.StatusServiceUnavailable},
		{"explicit status wins", New(ErrNotFound, http.StatusGone, "gone"), http.StatusGone},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusCode(tt.err); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("scoring: %w", InvalidArgument("cannot compare post %q with itself", "p1"))
	if !IsInvalidArgument(err) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if IsNotFound(err) {
		t.Error("invalid argument must not match not found")
	}
	want := `invalid argument: cannot compare post "p1" with itself`
	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatal("expected AppError in chain")
	}
	if appErr.Error() != want {
		t.Errorf("expected %q, got %q", want, appErr.Error())
	}
}
