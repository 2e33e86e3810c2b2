package service

import (
	"context"

	"github.com/rryowa/sessionguard/internal/models"
)

// CredentialCodec encodes and decodes the refresh credential wire format.
type CredentialCodec interface {
	EncodeRefresh(cred models.RefreshCredential, authMethod string) (string, error)
	DecodeRefresh(raw string) (*Claims, error)
}

type SecurityNotifier interface {
	NotifySecurityEvent(ctx context.Context, event models.SecurityEvent)
}
