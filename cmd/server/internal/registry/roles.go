package registry

import (
	"fmt"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
)

// SpeakersLackingRoles returns canonical speakers without a role assignment, in creation order.
func (r *Registry) SpeakersLackingRoles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, sp := range r.speakers {
		if _, ok := r.roles[sp.ID]; !ok {
			missing = append(missing, sp.ID)
		}
	}
	return missing
}

// AssignRoles stores assignments for known speakers that have none yet and returns
// what was stored. Existing assignments are never recomputed.
func (r *Registry) AssignRoles(assignments map[string]models.RoleAssignment) map[string]models.RoleAssignment {
	r.mu.Lock()
	defer r.mu.Unlock()

	applied := make(map[string]models.RoleAssignment)
	for id, a := range assignments {
		if _, ok := r.known[id]; !ok {
			continue
		}
		if _, exists := r.roles[id]; exists {
			continue
		}
		r.roles[id] = a
		applied[id] = a
	}
	return applied
}

// SetManualRole records a human decision for speakerID, replacing any previous assignment.
// It is allowed after Freeze since it does not touch the transcript.
func (r *Registry) SetManualRole(speakerID string, role models.Role, reasoning string) (models.RoleAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.known[speakerID]; !ok {
		return models.RoleAssignment{}, fmt.Errorf("%w: %s", ErrUnknownSpeaker, speakerID)
	}
	a := models.RoleAssignment{
		Role:       role,
		Confidence: 1,
		Reasoning:  reasoning,
		Source:     models.RoleSourceManual,
	}
	r.roles[speakerID] = a
	return a, nil
}

// Roles returns a snapshot of all role assignments.
func (r *Registry) Roles() map[string]models.RoleAssignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]models.RoleAssignment, len(r.roles))
	for id, a := range r.roles {
		out[id] = a
	}
	return out
}
