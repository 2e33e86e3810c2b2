package models

import "time"

// RefreshCredential is one issued refresh credential. Records that share a
// FamilyID form one session lineage.
type RefreshCredential struct {
	ID              string    `json:"jti"`
	RawCredential   string    `json:"raw_credential"`
	Subject         string    `json:"subject"`
	FamilyID        string    `json:"family_id"`
	Consumed        bool      `json:"consumed"`
	FingerprintHash string    `json:"fingerprint_hash"`
	IPHint          string    `json:"ip_hint,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

func (c RefreshCredential) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// TTL is the remaining lifetime at now; never negative.
func (c RefreshCredential) TTL(now time.Time) time.Duration {
	ttl := c.ExpiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}
