// Package common contains shared constants, sentinel errors and small helpers
// used across MedVault server and client components.
package common

import "time"

// AuthorizationHeaderName carries the session token as "Bearer <token>".
const AuthorizationHeaderName = "Authorization"

// Message prefixes signed by wallets. The resource being accessed is always
// part of the signed text so a signature cannot be replayed for another one.
const (
	AuthMessagePrefix   = "MedVault Auth: "
	UploadMessagePrefix = "MedVault: Upload "
	AccessMessagePrefix = "MedVault: Access "
)

// Cache layout shared with other services reading the same Redis.
const (
	NonceKeyPrefix        = "nonce:"
	RecordKeyPrefix       = "record:"
	MetadataKeyPrefix     = "metadata:"
	AuditKeyPrefix        = "audit:"
	NotificationKeyPrefix = "notification:"
	NotificationChannel   = "notifications:"
)

const (
	NonceTTL  = 300 * time.Second
	RecordTTL = 24 * time.Hour

	// AuditLogCap is the number of entries retained per patient.
	AuditLogCap = 1000
	// DefaultAuditLimit is used when a query does not specify a limit.
	DefaultAuditLimit = 100
)

// AuthMessage returns the challenge text signed during login.
func AuthMessage(nonce string) string { return AuthMessagePrefix + nonce }

// UploadMessage returns the text a patient signs to upload fileName.
func UploadMessage(fileName string) string { return UploadMessagePrefix + fileName }

// AccessMessage returns the text a requester signs to read the record with cid.
func AccessMessage(cid string) string { return AccessMessagePrefix + cid }
