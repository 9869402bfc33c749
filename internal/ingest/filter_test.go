package ingest

import (
	"testing"

	"contentpulse/internal/domain"
)

func TestIsAllowed(t *testing.T) {
	t.Parallel()

	item := domain.RawItem{
		Title:       "Great Casino Night Downtown",
		BodySummary: "A review of the new venue.",
	}

	if !IsAllowed(item, nil) {
		t.Error("empty denylist must pass everything")
	}
	if IsAllowed(item, []string{"casino"}) {
		t.Error("title keyword must reject")
	}
	if IsAllowed(item, []string{"CASINO"}) {
		t.Error("matching must be case-insensitive")
	}
	if IsAllowed(item, []string{"venue"}) {
		t.Error("body keyword must reject")
	}
	if !IsAllowed(item, []string{"lottery", "scam"}) {
		t.Error("unrelated keywords must pass")
	}
	if !IsAllowed(item, []string{"", "  "}) {
		t.Error("blank denylist entries must be ignored")
	}
}
