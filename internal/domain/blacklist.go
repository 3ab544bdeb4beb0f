package domain

import (
	"time"

	"github.com/google/uuid"
)

// BlacklistType keys a blocklist entry.
type BlacklistType string

const (
	BlacklistTypeIP      BlacklistType = "IpAddress"
	BlacklistTypeAccount BlacklistType = "Account"
	BlacklistTypeDevice  BlacklistType = "Device"
	BlacklistTypeCountry BlacklistType = "Country"
)

// BlacklistStatus is the explicit lifecycle state of an entry. Expiry is a
// separate, time-derived property; entries are never deleted on expiry.
type BlacklistStatus string

const (
	BlacklistStatusActive      BlacklistStatus = "Active"
	BlacklistStatusInvalidated BlacklistStatus = "Invalidated"
)

// BlacklistItem is a time-boxed deny entry keyed by (Type, Value).
type BlacklistItem struct {
	ID     uuid.UUID     `json:"id"`
	Type   BlacklistType `json:"type"`
	Value  string        `json:"value"`
	Reason string        `json:"reason"`

	// Source rule/event when created by the rule evaluator.
	RuleID  *uuid.UUID `json:"ruleId,omitempty"`
	EventID *uuid.UUID `json:"eventId,omitempty"`

	// ExpiryDate of nil means the entry never expires.
	ExpiryDate *time.Time      `json:"expiryDate,omitempty"`
	Status     BlacklistStatus `json:"status"`

	AddedBy       string     `json:"addedBy"`
	CreatedAt     time.Time  `json:"createdAt"`
	InvalidatedBy string     `json:"invalidatedBy,omitempty"`
	InvalidatedAt *time.Time `json:"invalidatedAt,omitempty"`
}

// NewBlacklistItem creates an active entry; a nil duration means no expiry.
func NewBlacklistItem(btype BlacklistType, value, reason string, ruleID, eventID *uuid.UUID, duration *time.Duration, addedBy string) *BlacklistItem {
	item := &BlacklistItem{
		ID:        uuid.New(),
		Type:      btype,
		Value:     value,
		Reason:    reason,
		RuleID:    ruleID,
		EventID:   eventID,
		Status:    BlacklistStatusActive,
		AddedBy:   addedBy,
		CreatedAt: time.Now().UTC(),
	}
	if duration != nil {
		expiry := time.Now().UTC().Add(*duration)
		item.ExpiryDate = &expiry
	}
	return item
}

// Invalidate retires the entry explicitly, independent of expiry.
func (b *BlacklistItem) Invalidate(by string) {
	now := time.Now().UTC()
	b.Status = BlacklistStatusInvalidated
	b.InvalidatedBy = by
	b.InvalidatedAt = &now
}

// Refresh extends the entry's expiry from now; a nil duration clears it so
// the entry no longer expires.
func (b *BlacklistItem) Refresh(duration *time.Duration) {
	if duration == nil {
		b.ExpiryDate = nil
		return
	}
	expiry := time.Now().UTC().Add(*duration)
	b.ExpiryDate = &expiry
}

// IsExpiredAt is a pure function of the given instant vs ExpiryDate.
func (b *BlacklistItem) IsExpiredAt(now time.Time) bool {
	return b.ExpiryDate != nil && b.ExpiryDate.Before(now)
}

// IsExpired checks expiry against the current clock.
func (b *BlacklistItem) IsExpired() bool {
	return b.IsExpiredAt(time.Now().UTC())
}

// IsActiveAt reports whether the entry blocks at the given instant.
func (b *BlacklistItem) IsActiveAt(now time.Time) bool {
	return b.Status == BlacklistStatusActive && !b.IsExpiredAt(now)
}

// IsActive reports whether the entry blocks right now.
func (b *BlacklistItem) IsActive() bool {
	return b.IsActiveAt(time.Now().UTC())
}
