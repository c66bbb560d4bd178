package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being recorded in the ledger
type AuditAction string

const (
	AuditActionDecision         AuditAction = "decision"
	AuditActionExecutionResult  AuditAction = "execution_result"
	AuditActionRegistryUpsert   AuditAction = "registry_upsert"
	AuditActionRegistryDelete   AuditAction = "registry_delete"
	AuditActionRegistryPublish  AuditAction = "registry_publish"
	AuditActionRegistryRollback AuditAction = "registry_rollback"
)

// AuditEvent is one link of the decision ledger's hash chain. PrevHash of
// record n equals EventHash of record n-1; the first record carries an empty
// PrevHash. Stored events are never updated or deleted.
type AuditEvent struct {
	ID            uuid.UUID   `json:"id" db:"id"`
	Actor         string      `json:"actor" db:"actor"`
	Action        AuditAction `json:"action" db:"action"`
	Target        string      `json:"target" db:"target"`
	Decision      string      `json:"decision" db:"decision"`
	PolicyID      string      `json:"policy_id" db:"policy_id"`
	PolicyVersion string      `json:"policy_version" db:"policy_version"`
	RiskScore     int         `json:"risk_score" db:"risk_score"`
	RequestID     string      `json:"request_id" db:"request_id"`
	PrevHash      string      `json:"prev_hash" db:"prev_hash"`
	EventHash     string      `json:"event_hash" db:"event_hash"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the AuditEvent model
func (AuditEvent) TableName() string {
	return "audit_events"
}

// NewAuditEvent creates a new AuditEvent with hashes left unset.
// The ledger fills PrevHash and EventHash at append time.
func NewAuditEvent(actor string, action AuditAction, target string) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.New(),
		Actor:     actor,
		Action:    action,
		Target:    target,
		CreatedAt: time.Now().UTC(),
	}
}

// ChainPayload returns the canonical preimage hashed into EventHash.
// CreatedAt is rendered as RFC3339Nano in UTC so the preimage survives a
// round trip through the database.
func (e *AuditEvent) ChainPayload(prevHash string) string {
	return strings.Join([]string{
		prevHash,
		e.Actor,
		string(e.Action),
		e.Target,
		e.Decision,
		e.PolicyID,
		e.PolicyVersion,
		e.RequestID,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, "|")
}

// ComputeHash returns the SHA-256 hash of the chain payload, hex encoded
func (e *AuditEvent) ComputeHash(prevHash string) string {
	sum := sha256.Sum256([]byte(e.ChainPayload(prevHash)))
	return hex.EncodeToString(sum[:])
}
