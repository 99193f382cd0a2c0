package directive

import (
	"log/slog"

	"github.com/careerpilot/careerpilot/internal/store"
)

// Gated operation names. Agents pass one of these to CheckOperation before
// acting on a user's behalf.
const (
	OpApply    = "apply"
	OpSearch   = "search"
	OpOutreach = "outreach"
)

// blockingTypes maps an operation to the directive types that suspend it.
// A pause stops applying only; a focus shift suspends the whole pipeline
// until the user realigns.
var blockingTypes = map[string][]string{
	OpApply:    {store.DirectivePauseApplications, store.DirectiveFocusShift},
	OpSearch:   {store.DirectiveFocusShift},
	OpOutreach: {store.DirectiveFocusShift},
}

// Decision is the gate's answer for a single operation check.
type Decision struct {
	Blocked        bool                   `json:"blocked"`
	Directive      *store.DirectiveRecord `json:"directive,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
	RequiredAction string                 `json:"required_action,omitempty"`
}

// CheckOperation reports whether agentType may perform operation for the
// user right now. Pending directives block just like active ones; an
// unlisted operation is never blocked. When several directives block, the
// highest priority one (newest first on ties) is reported.
func (s *Service) CheckOperation(userID, agentType, operation string) (Decision, error) {
	types, ok := blockingTypes[operation]
	if !ok {
		return Decision{}, nil
	}
	blocking, err := s.store.ListBlockingDirectives(userID, types, s.now())
	if err != nil {
		return Decision{}, err
	}
	if len(blocking) == 0 {
		return Decision{}, nil
	}
	d := blocking[0]
	slog.Info("Operation blocked by directive",
		"user_id", userID, "agent", agentType, "operation", operation,
		"directive_id", d.DirectiveID, "type", d.Type, "priority", d.Priority)
	return Decision{
		Blocked:        true,
		Directive:      &d,
		Reason:         d.Title,
		RequiredAction: d.ActionRequired,
	}, nil
}
