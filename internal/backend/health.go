package backend

import (
	"context"
	"sort"

	"github.com/meerkat-chat/meerkat/internal/healthcheck"
)

// ListChecks reports store size and every forced fault that is on.
func (s *Store) ListChecks(_ context.Context) []healthcheck.CheckResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := 0
	subscribers := 0
	for _, r := range s.rooms {
		messages += len(r.messages)
		subscribers += len(r.subs)
	}
	checks := []healthcheck.CheckResult{{
		ID:     "backend.store",
		Status: healthcheck.StatusOK,
		Metadata: map[string]any{
			"users":       len(s.users),
			"chatrooms":   len(s.rooms),
			"messages":    messages,
			"subscribers": subscribers,
		},
	}}

	faults := make([]string, 0, len(s.faults))
	for f, on := range s.faults {
		if on {
			faults = append(faults, string(f))
		}
	}
	sort.Strings(faults)
	for _, f := range faults {
		checks = append(checks, healthcheck.CheckResult{
			ID:      "backend.fault." + f,
			Status:  healthcheck.StatusWarn,
			Summary: "forced failure is on",
		})
	}
	return checks
}
