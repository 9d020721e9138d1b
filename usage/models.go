// Package usage tracks metered actions as per-period counters, one
// logical counter per (user, action kind, billing period).
package usage

import (
	"time"

	"github.com/praxishq/entitle/id"
	"github.com/praxishq/entitle/types"
)

// ActionKind is a metered action type. The set is closed: the
// entitlement check pattern-matches on these values rather than
// comparing free-form strings.
type ActionKind string

const (
	ActionConversation ActionKind = "conversation"
	ActionMessage      ActionKind = "message"
	ActionExport       ActionKind = "export"
)

// Valid reports whether a is a known action kind.
func (a ActionKind) Valid() bool {
	switch a {
	case ActionConversation, ActionMessage, ActionExport:
		return true
	}
	return false
}

// Kinds returns all metered action kinds in stable order.
func Kinds() []ActionKind {
	return []ActionKind{ActionConversation, ActionMessage, ActionExport}
}

// Unlimited is the quota value that always allows.
const Unlimited int64 = -1

// Record is one per-period usage counter. Counters are created lazily on
// first touch in a period, incremented atomically, never decremented.
// Rollover creates a fresh record for the new period; old records are
// retained for audit.
type Record struct {
	types.Entity
	ID          id.UsageRecordID `json:"id"`
	UserID      string           `json:"user_id"`
	Action      ActionKind       `json:"action"`
	Count       int64            `json:"count"`
	PeriodStart time.Time        `json:"period_start"`
	PeriodEnd   time.Time        `json:"period_end"`
}

// Key identifies one logical counter. PeriodStart is part of the key, so
// rollover is a new key rather than a reset of the old one.
type Key struct {
	UserID      string
	Action      ActionKind
	PeriodStart time.Time
}

// Key returns the logical counter key for the record.
func (r *Record) Key() Key {
	return Key{UserID: r.UserID, Action: r.Action, PeriodStart: r.PeriodStart}
}

type QueryOpts struct {
	Action ActionKind
	Since  time.Time
	Limit  int
	Offset int
}
