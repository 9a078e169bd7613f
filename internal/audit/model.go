package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// canonicalJSON produces deterministic JSON output with sorted map keys.
// Go maps have random iteration order and PostgreSQL JSONB may reorder keys,
// so hashing requires a canonical encoding.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	return canonicalMarshal(parsed)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			valBytes, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(valBytes)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			itemBytes, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf.Write(itemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	default:
		return json.Marshal(val)
	}
}

// ActorType distinguishes the two identity classes the platform recognizes.
type ActorType string

const (
	ActorTypeSystem ActorType = "SYSTEM"
	ActorTypeHuman  ActorType = "HUMAN"
)

// Entry is an immutable audit record. Entries are hash-chained: each carries a
// SHA-256 over its own canonical content plus the previous entry's hash, so
// any after-the-fact edit breaks the chain.
type Entry struct {
	ID        types.ID  `json:"id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prev_hash,omitempty"`

	// Actor. ActorID is a user id for humans and the service name for
	// SYSTEM actors (the ingestion pipeline, the billing feed).
	ActorType   ActorType `json:"actor_type"`
	ActorID     string    `json:"actor_id"`
	ActorEmail  string    `json:"actor_email,omitempty"`
	ServiceName string    `json:"service_name,omitempty"`

	// Action
	Action       string `json:"action"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty"`

	// Details carries action-specific context: denial reasons, transition
	// endpoints, allocation scores.
	Details map[string]any `json:"details,omitempty"`
}

// NewEntry creates an audit entry. The hash is recalculated by the repository
// once the previous chain hash is known.
func NewEntry(actorType ActorType, actorID, action, resourceType, resourceID string, details map[string]any) *Entry {
	e := &Entry{
		ID:           types.NewID(),
		Timestamp:    time.Now().UTC().Truncate(time.Microsecond),
		ActorType:    actorType,
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
	}
	e.Hash = e.computeHash()
	return e
}

func (e *Entry) computeHash() string {
	// Explicit field set, canonical encoding, UTC timestamp. Optional fields
	// participate only when present so older entries verify unchanged.
	data := map[string]any{
		"id":            e.ID,
		"timestamp":     e.Timestamp.UTC().Format(time.RFC3339Nano),
		"prev_hash":     e.PrevHash,
		"actor_type":    e.ActorType,
		"actor_id":      e.ActorID,
		"action":        e.Action,
		"resource_type": e.ResourceType,
	}

	if e.ResourceID != "" {
		data["resource_id"] = e.ResourceID
	}
	if e.ActorEmail != "" {
		data["actor_email"] = e.ActorEmail
	}
	if e.ServiceName != "" {
		data["service_name"] = e.ServiceName
	}
	if len(e.Details) > 0 {
		data["details"] = e.Details
	}

	jsonData, _ := canonicalJSON(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// VerifyHash recomputes the content hash and compares it to the stored one.
func (e *Entry) VerifyHash() bool {
	return e.Hash == e.computeHash()
}

// ComputeHash returns the correct content hash for this entry.
func (e *Entry) ComputeHash() string {
	return e.computeHash()
}

// ListFilter defines query filters for the audit read API.
type ListFilter struct {
	ActorID      string     `json:"actor_id,omitempty"`
	ActorType    *ActorType `json:"actor_type,omitempty"`
	Action       string     `json:"action,omitempty"`
	ResourceType string     `json:"resource_type,omitempty"`
	ResourceID   string     `json:"resource_id,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Limit        int        `json:"limit,omitempty"`
	Offset       int        `json:"offset,omitempty"`
}

// Governance audit actions.
const (
	// Case lifecycle
	ActionCaseCreated           = "case.created"
	ActionCaseCreateRejected    = "case.create_rejected"
	ActionCaseCreationFailed    = "case.creation_failed"
	ActionCaseTransitioned      = "case.transitioned"
	ActionCaseTransitionDenied  = "case.transition_denied"
	ActionCaseAllocated         = "case.allocated"
	ActionCaseAllocationPending = "case.allocation_pending"
	ActionCaseViewed            = "case.viewed"

	// SLA
	ActionSLABound    = "sla.bound"
	ActionSLABreached = "sla.breached"

	// User provisioning
	ActionUserCreated      = "user.created"
	ActionUserCreateDenied = "user.create_denied"
	ActionUserUpdated      = "user.updated"
	ActionUserUpdateDenied = "user.update_denied"
	ActionUserDeactivated  = "user.deactivated"

	// DCA administration
	ActionDCACreated   = "dca.created"
	ActionDCAUpdated   = "dca.updated"
	ActionDCASuspended = "dca.suspended"

	// Sensitive access
	ActionAuditExported = "sensitive.audit_exported"
)
