package requestid

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestWithAndFrom(t *testing.T) {
	ctx := With(context.Background(), "req-1")
	if got := From(ctx); got != "req-1" {
		t.Errorf("From = %q", got)
	}
	if got := From(context.Background()); got != "" {
		t.Errorf("empty context = %q", got)
	}
	if got := From(With(context.Background(), "")); got != "" {
		t.Errorf("empty id should not be stored, got %q", got)
	}
}

func TestSanitize(t *testing.T) {
	if got := Sanitize("abc-123"); got != "abc-123" {
		t.Errorf("valid id changed: %q", got)
	}
	for _, bad := range []string{"", "   ", "has space", "tab\tid", strings.Repeat("a", 200), "ünïcode"} {
		got := Sanitize(bad)
		if _, err := uuid.Parse(got); err != nil {
			t.Errorf("Sanitize(%q) = %q, want fresh uuid", bad, got)
		}
	}
}
