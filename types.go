package authflow

import (
	"time"
)

// FlowState is the single mutable piece of a flow session.
type FlowState uint8

const (
	// StateCollecting is the initial state: credentials are being entered.
	StateCollecting FlowState = iota
	// StateVerifying means a code was issued and the flow waits for it.
	StateVerifying
	// StateSucceeded is terminal.
	StateSucceeded
)

func (s FlowState) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateVerifying:
		return "verifying"
	case StateSucceeded:
		return "succeeded"
	default:
		return "unknown"
	}
}

// MarshalText renders the state the way the HTTP API and audit metadata show it.
func (s FlowState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Credentials is the payload of the first form step. It is immutable once
// captured by a controller and never persisted.
type Credentials struct {
	Name         string `json:"name" validate:"min=2"`
	Phone        string `json:"phone" validate:"intlphone"`
	Email        string `json:"email" validate:"email"`
	ReferralCode string `json:"referralCode,omitempty"`
}

// Challenge identifies an issued one-time code. The code itself never leaves the backend.
type Challenge struct {
	ID          string
	Destination string
	ExpiresAt   time.Time
}

// Completion is delivered exactly once, after the success acknowledgement delay.
// Name and Phone are for display only.
type Completion struct {
	FlowID      string
	Name        string
	Phone       string
	GrantToken  string
	CompletedAt time.Time
}

// Snapshot is the read model a presentation layer renders from.
type Snapshot struct {
	ID          string            `json:"id"`
	State       FlowState         `json:"state"`
	Loading     bool              `json:"loading"`
	Banner      string            `json:"banner,omitempty"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
	Prefill     Credentials       `json:"prefill"`
	Destination string            `json:"destination,omitempty"`
	Completed   bool              `json:"completed"`
	GrantToken  string            `json:"grant_token,omitempty"`
}

// MaskPhone keeps the leading plus sign and the last four digits.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	prefix := ""
	body := phone
	if phone[0] == '+' {
		prefix = "+"
		body = phone[1:]
	}
	if len(body) <= 4 {
		return phone
	}
	masked := make([]byte, len(body))
	for i := range body {
		if i < len(body)-4 {
			masked[i] = '*'
		} else {
			masked[i] = body[i]
		}
	}
	return prefix + string(masked)
}
