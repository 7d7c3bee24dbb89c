package models

import (
	"encoding/json"
	"time"
)

// AuditStatus is the lifecycle state of an audit record.
type AuditStatus string

const (
	AuditReceived         AuditStatus = "RECEIVED"
	AuditForwardedSuccess AuditStatus = "FORWARDED_SUCCESS"
	AuditForwardedError   AuditStatus = "FORWARDED_ERROR"
)

// Terminal reports whether s is a final state.
func (s AuditStatus) Terminal() bool {
	return s == AuditForwardedSuccess || s == AuditForwardedError
}

// Valid reports whether s is one of the known states.
func (s AuditStatus) Valid() bool {
	return s == AuditReceived || s.Terminal()
}

// AuditRecord is one ingestion attempt.
type AuditRecord struct {
	ID               string          `json:"id"`
	IdentityToken    string          `json:"identityToken"`
	EventName        string          `json:"eventName"`
	IdempotencyToken string          `json:"idempotencyToken,omitempty"`
	Status           AuditStatus     `json:"status"`
	RawPayload       json.RawMessage `json:"rawPayload,omitempty"`
	Detail           json.RawMessage `json:"detail,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// AuditOutcome closes an audit record. Detail is stored as JSON.
type AuditOutcome struct {
	Status AuditStatus
	Detail any
}
