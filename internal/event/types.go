// Package event defines the closed event catalogue and the idempotent
// event bus that dispatches ledgered events to agent handlers.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type identifies one kind of domain event. The catalogue is closed: an
// unknown type is rejected at publish time, and every consumer dispatches
// over the typed payload rather than guessing at the JSON shape.
type Type string

const (
	TypeInterviewCompleted   Type = "INTERVIEW_COMPLETED"
	TypeRoadmapRepathNeeded  Type = "ROADMAP_REPATH_NEEDED"
	TypeApplicationSubmitted Type = "APPLICATION_SUBMITTED"
	TypeRejectionParsed      Type = "REJECTION_PARSED"
	TypeDirectiveIssued      Type = "DIRECTIVE_ISSUED"
	TypeDirectiveCompleted   Type = "DIRECTIVE_COMPLETED"
	TypeModuleCompleted      Type = "MODULE_COMPLETED"
	TypeJobMatchFound        Type = "JOB_MATCH_FOUND"
	TypeGhostingDetected     Type = "GHOSTING_DETECTED"
)

// ErrUnknownType is returned for a type outside the catalogue.
var ErrUnknownType = errors.New("unknown event type")

// ErrInvalidPayload is returned when a payload does not match its type's
// schema. Invalid input fails fast and is never retried.
var ErrInvalidPayload = errors.New("invalid event payload")

// InterviewCompletedPayload carries a finished interview for evaluation.
type InterviewCompletedPayload struct {
	InterviewID string `json:"interview_id"`
	UserID      string `json:"user_id"`
	Role        string `json:"role,omitempty"`
	Transcript  string `json:"transcript"`
}

// RoadmapRepathNeededPayload signals that a user's learning roadmap should
// be replanned.
type RoadmapRepathNeededPayload struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// ApplicationSubmittedPayload records a submitted job application.
type ApplicationSubmittedPayload struct {
	ApplicationID string `json:"application_id"`
	UserID        string `json:"user_id"`
	JobTitle      string `json:"job_title"`
	Company       string `json:"company"`
	Platform      string `json:"platform"`
}

// RejectionParsedPayload records a rejection detected in the user's inbox.
type RejectionParsedPayload struct {
	ApplicationID string `json:"application_id"`
	UserID        string `json:"user_id"`
	Company       string `json:"company,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// DirectiveIssuedPayload announces a new strategist directive.
type DirectiveIssuedPayload struct {
	DirectiveID string `json:"directive_id"`
	UserID      string `json:"user_id"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Title       string `json:"title"`
}

// DirectiveCompletedPayload announces a directive reaching a terminal state.
type DirectiveCompletedPayload struct {
	DirectiveID string `json:"directive_id"`
	UserID      string `json:"user_id"`
	LogID       string `json:"log_id,omitempty"`
}

// ModuleCompletedPayload records a finished learning module.
type ModuleCompletedPayload struct {
	UserID   string  `json:"user_id"`
	ModuleID string  `json:"module_id"`
	Score    float64 `json:"score,omitempty"`
}

// JobMatchFoundPayload carries a job match for the action agent.
type JobMatchFoundPayload struct {
	UserID     string  `json:"user_id"`
	JobTitle   string  `json:"job_title"`
	Company    string  `json:"company"`
	Platform   string  `json:"platform"`
	JobURL     string  `json:"job_url,omitempty"`
	MatchScore float64 `json:"match_score,omitempty"`
}

// GhostingDetectedPayload flags an application at risk of ghosting.
type GhostingDetectedPayload struct {
	ApplicationID string `json:"application_id"`
	UserID        string `json:"user_id"`
	Platform      string `json:"platform,omitempty"`
	HopeScore     int    `json:"hope_score"`
}

// Valid reports whether t belongs to the catalogue.
func Valid(t Type) bool {
	switch t {
	case TypeInterviewCompleted, TypeRoadmapRepathNeeded, TypeApplicationSubmitted,
		TypeRejectionParsed, TypeDirectiveIssued, TypeDirectiveCompleted,
		TypeModuleCompleted, TypeJobMatchFound, TypeGhostingDetected:
		return true
	}
	return false
}

// DecodePayload unmarshals raw JSON into the typed payload for t. The switch
// is exhaustive over the catalogue; consumers type-assert the result instead
// of poking at maps.
func DecodePayload(t Type, raw []byte) (any, error) {
	decode := func(v any) (any, error) {
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, t, err)
		}
		return v, nil
	}
	switch t {
	case TypeInterviewCompleted:
		return decode(&InterviewCompletedPayload{})
	case TypeRoadmapRepathNeeded:
		return decode(&RoadmapRepathNeededPayload{})
	case TypeApplicationSubmitted:
		return decode(&ApplicationSubmittedPayload{})
	case TypeRejectionParsed:
		return decode(&RejectionParsedPayload{})
	case TypeDirectiveIssued:
		return decode(&DirectiveIssuedPayload{})
	case TypeDirectiveCompleted:
		return decode(&DirectiveCompletedPayload{})
	case TypeModuleCompleted:
		return decode(&ModuleCompletedPayload{})
	case TypeJobMatchFound:
		return decode(&JobMatchFoundPayload{})
	case TypeGhostingDetected:
		return decode(&GhostingDetectedPayload{})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
}

// Envelope is the decoded event a handler receives.
type Envelope struct {
	EventID string
	Type    Type
	UserID  string
	Attempt int
	RetryOf string
	Payload any // typed per DecodePayload
}
