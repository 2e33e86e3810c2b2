package models

import "time"

//nolint:gosec //file not handles sensitive data
const (
	MwAPIKeyHeader = "X-API-Key"

	RefreshCookieName = "refreshToken"
	RefreshCookiePath = "/"
)

// Token kinds carried in the "typ" claim.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

const (
	DefaultAuthMethod = "pwd"
	UnknownAuthMethod = "unknown"
)

// SecurityEvent is posted to the webhook whenever rotation observes an anomaly.
type SecurityEvent struct {
	Type       string    `json:"type"`
	Subject    string    `json:"subject"`
	FamilyID   string    `json:"family_id"`
	CredID     string    `json:"jti,omitempty"`
	OldIPHint  string    `json:"old_ip_hint,omitempty"`
	NewIPHint  string    `json:"new_ip_hint,omitempty"`
	Revoked    bool      `json:"revoked"`
	OccurredAt time.Time `json:"occurred_at"`
}
