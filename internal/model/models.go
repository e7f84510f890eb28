package model

import (
	"context"
	"time"
)

// -------------------- CHALLENGE MODEL --------------------

// Challenge is an outstanding verification request. The owner of the mobile
// number proves possession by echoing Token back over SMS before ExpiresAt.
type Challenge struct {
	Mobile   string    `json:"mobile"`
	Token    string    `json:"token"`
	IssuedAt time.Time `json:"issued_at"`
}

// -------------------- VERIFICATION MODEL --------------------

// VerificationFlag marks a mobile that passed SMS validation and is awaiting
// credential submission. Created in the same atomic step that consumes the
// Challenge; consumed exactly once by PIN setup.
type VerificationFlag struct {
	Mobile     string    `json:"mobile"`
	Token      string    `json:"token"`
	VerifiedAt time.Time `json:"verified_at"`
}

// -------------------- INBOUND SMS --------------------

// InboundSMS is one SMS event as forwarded by the gateway.
type InboundSMS struct {
	MessageID  string    `json:"message_id"`
	Mobile     string    `json:"mobile_number"`
	Body       string    `json:"message"`
	ReceivedAt time.Time `json:"received_at"`
}

// -------------------- QUEUE PAYLOADS --------------------

// SyncItem is a verified credential queued for delivery to the external
// backend.
type SyncItem struct {
	Mobile string `json:"mobile"`
	PIN    string `json:"pin"`
	Token  string `json:"hash"`
}

// AuditEvent is one entry on the cold path, archived in batches.
type AuditEvent struct {
	Event     string                 `json:"event"`
	Details   map[string]interface{} `json:"details"`
	Timestamp time.Time              `json:"timestamp"`
}

// Audit event kinds.
const (
	EventHashGen           = "HASH_GEN"
	EventSMSVerified       = "SMS_VERIFIED"
	EventSMSFailed         = "SMS_FAILED"
	EventPINCollected      = "PIN_COLLECTED"
	EventSyncOK            = "SYNC_OK"
	EventSyncFailed        = "SYNC_FAILED"
	EventRecoveryTriggered = "RECOVERY_TRIGGERED"
	EventFallbackEntered   = "FALLBACK_ENTERED"
	EventFallbackRecovered = "FALLBACK_RECOVERED"
	EventBlacklistUpdated  = "BLACKLIST_UPDATED"
)

// -------------------- DURABLE RECORDS --------------------

// PowerDownRecord captures one fast-store key (type, value, remaining TTL) at
// the moment a fast-store outage was detected.
type PowerDownRecord struct {
	KeyName     string    `json:"key_name" db:"key_name"`
	KeyType     string    `json:"key_type" db:"key_type"`
	Value       string    `json:"value" db:"value"`
	OriginalTTL int64     `json:"original_ttl_seconds" db:"original_ttl_seconds"` // seconds; 0 = no expiry
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// BlacklistEntry is a blocked mobile. The durable-store copy is
// authoritative; the fast-store set is rebuilt from it.
type BlacklistEntry struct {
	Mobile    string    `json:"mobile" db:"mobile"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	CreatedBy string    `json:"created_by" db:"created_by"`
}

// PendingSMS is an inbound SMS captured durably while the fast store is
// unavailable, replayed through the pipeline on recovery.
type PendingSMS struct {
	MessageID  string    `json:"message_id" db:"message_id"`
	Mobile     string    `json:"mobile" db:"mobile"`
	Body       string    `json:"body" db:"body"`
	ReceivedAt time.Time `json:"received_at" db:"received_at"`
}

// BackupCredential is the last-resort durable copy of a collected
// credential, keyed by (mobile, token) with upsert semantics.
type BackupCredential struct {
	Mobile    string    `json:"mobile" db:"mobile"`
	PINHash   string    `json:"pin_hash" db:"pin_hash"`
	Token     string    `json:"token" db:"token"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// -------------------- FAST-STORE INTERFACES --------------------

// ChallengeCache manages challenge:{token} and challenge_mobile:{mobile}
// entries in the fast store.
type ChallengeCache interface {
	// PutChallenge stores a challenge, atomically replacing any live
	// challenge for the same mobile. Reports whether one was replaced.
	PutChallenge(ctx context.Context, ch *Challenge, ttl time.Duration) (replaced bool, err error)
	GetChallenge(ctx context.Context, token string) (*Challenge, error)
	// ConsumeChallenge atomically deletes the challenge keyed by token and
	// creates the verification flag for mobile. Both or neither.
	ConsumeChallenge(ctx context.Context, token, mobile string, verifiedTTL time.Duration) error
}

// VerificationCache manages verified:{mobile} entries.
type VerificationCache interface {
	GetVerification(ctx context.Context, mobile string) (*VerificationFlag, error)
	// ConsumeVerification atomically checks the stored token, deletes the
	// flag, and enqueues the sync item. Fails without side effects when the
	// flag is absent or the token differs.
	ConsumeVerification(ctx context.Context, mobile, token string, item *SyncItem) error
}

// RateLimitCache tracks per-mobile SMS counts within a rolling window.
type RateLimitCache interface {
	IncrementCounter(ctx context.Context, mobile string, window time.Duration) (int, error)
	GetCounter(ctx context.Context, mobile string) (int, error)
}

// BlacklistCache mirrors the authoritative durable blacklist as a set.
type BlacklistCache interface {
	IsBlacklisted(ctx context.Context, mobile string) (bool, error)
	Reload(ctx context.Context, mobiles []string) error
}

// QueueCache provides the sync, retry and audit FIFO lists.
type QueueCache interface {
	PushSync(ctx context.Context, item *SyncItem) error
	PopSync(ctx context.Context) (*SyncItem, error)
	PushRetry(ctx context.Context, item *SyncItem) error
	DrainPending(ctx context.Context) ([]*SyncItem, error)
	Requeue(ctx context.Context, items []*SyncItem) error
	PushAudit(ctx context.Context, event *AuditEvent) error
	// FlushAudit atomically removes and returns up to max buffered events.
	FlushAudit(ctx context.Context, max int) ([]*AuditEvent, error)
	RequeueAudit(ctx context.Context, events []*AuditEvent) error
}

// StateDumper snapshots and restores the live verification state around a
// fast-store outage.
type StateDumper interface {
	// DumpState scans live challenge and verification keys. Each key dump is
	// individually failable; partial results are returned alongside the
	// per-key errors.
	DumpState(ctx context.Context) ([]*PowerDownRecord, []error)
	RestoreState(ctx context.Context, records []*PowerDownRecord) error
}

// -------------------- DURABLE-STORE INTERFACES --------------------

// BlacklistStore is the authoritative blacklist table.
type BlacklistStore interface {
	ListMobiles(ctx context.Context) ([]string, error)
	Add(ctx context.Context, entry *BlacklistEntry) error
	Remove(ctx context.Context, mobile string) error
}

// PowerDownStore persists fast-store snapshots across outages.
type PowerDownStore interface {
	SaveRecords(ctx context.Context, records []*PowerDownRecord) error
	LoadRecords(ctx context.Context) ([]*PowerDownRecord, error)
	DeleteAll(ctx context.Context) error
}

// PendingSMSStore captures inbound SMS during fallback mode.
type PendingSMSStore interface {
	Append(ctx context.Context, sms *PendingSMS) error
	LoadAll(ctx context.Context) ([]*PendingSMS, error)
	Delete(ctx context.Context, messageIDs []string) error
}

// BackupCredentialStore is the durable last-resort credential copy.
type BackupCredentialStore interface {
	Upsert(ctx context.Context, cred *BackupCredential) error
}

// AuditLogStore archives audit events append-only.
type AuditLogStore interface {
	InsertBatch(ctx context.Context, events []*AuditEvent) error
}
