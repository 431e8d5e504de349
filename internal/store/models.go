package store

import (
	"time"
)

// DoseStatus is the lifecycle state of one dose occurrence.
type DoseStatus string

const (
	StatusPending      DoseStatus = "pending"
	StatusTaken        DoseStatus = "taken"
	StatusSkipped      DoseStatus = "skipped"
	StatusMissed       DoseStatus = "missed"
	StatusDelayed      DoseStatus = "delayed"
	StatusUnresponsive DoseStatus = "unresponsive"
)

// ValidStatus reports whether s is a known dose status.
func ValidStatus(s DoseStatus) bool {
	switch s {
	case StatusPending, StatusTaken, StatusSkipped, StatusMissed, StatusDelayed, StatusUnresponsive:
		return true
	}
	return false
}

// SupplyDelta maps a status transition to an inventory delta: +1 means
// one unit consumed (transition into taken), -1 means one unit returned
// (correction away from taken), 0 otherwise. Inventory is always a
// function of the transition, never of the raw status, so idempotent
// re-writes of the same status cost nothing.
func SupplyDelta(prev, next DoseStatus) int {
	if next == StatusTaken && prev != StatusTaken {
		return 1
	}
	if prev == StatusTaken && next != StatusTaken {
		return -1
	}
	return 0
}

// User owns medications and notification channel addresses. Each channel
// is independently enabled by the presence of its address.
type User struct {
	ID          string `json:"id" gorm:"primaryKey"`
	DisplayName string `json:"display_name"`

	// Channel addresses
	TelegramChatID          *int64 `json:"telegram_chat_id,omitempty"`
	DiscordUserID           string `json:"discord_user_id,omitempty"`
	PushSubscriptionJSON    string `json:"-" gorm:"type:text"`
	WebNotificationsEnabled bool   `json:"web_notifications_enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PushSubscription mirrors the browser PushSubscription shape stored for
// a user.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Medication is a tracked medication with a daily clock-time schedule.
type Medication struct {
	ID     string `json:"id" gorm:"primaryKey"`
	UserID string `json:"user_id" gorm:"index"`

	Name   string `json:"name"`
	Dosage string `json:"dosage"` // e.g. "500mg", "1 tablet"
	Type   string `json:"type,omitempty"`

	// Times holds HH:MM entries in the reference timezone.
	Times     []string `json:"times" gorm:"-"`
	TimesJSON string   `json:"-" gorm:"type:text"`

	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	// Supply tracking; nil CurrentSupply disables it.
	CurrentSupply     *int   `json:"current_supply,omitempty"`
	SupplyUnit        string `json:"supply_unit,omitempty"`
	LowStockThreshold *int   `json:"low_stock_threshold,omitempty"`

	Notes string `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the medication schedule covers the given day.
func (m *Medication) Active(now time.Time) bool {
	if now.Before(m.StartDate) {
		return false
	}
	if m.EndDate != nil && now.After(*m.EndDate) {
		return false
	}
	return true
}

// LowStock reports whether supply tracking is enabled and at or under
// the configured threshold.
func (m *Medication) LowStock() bool {
	if m.CurrentSupply == nil || m.LowStockThreshold == nil {
		return false
	}
	return *m.CurrentSupply <= *m.LowStockThreshold
}

// DoseLog is one dose occurrence. Its ID is the deterministic
// (medication, day, clock time) key, so at most one row can ever exist
// per occurrence; rows are never deleted and serve as the adherence
// audit trail.
type DoseLog struct {
	ID           string `json:"id" gorm:"primaryKey"`
	UserID       string `json:"user_id" gorm:"index"`
	MedicationID string `json:"medication_id" gorm:"index"`

	ScheduledTime time.Time  `json:"scheduled_time" gorm:"index"`
	ActualTime    *time.Time `json:"actual_time,omitempty"`
	Status        DoseStatus `json:"status"`

	// Snooze bookkeeping. DelayedUntil is kept after resurrection for
	// audit.
	DelayedUntil *time.Time `json:"delayed_until,omitempty"`
	DelayCount   int        `json:"delay_count,omitempty"`
	DelayReason  string     `json:"delay_reason,omitempty"`

	Notes string `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
