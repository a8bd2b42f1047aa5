/*
meter.go - Meter registry entities

PURPOSE:
  A Meter is one physical counter. It belongs to exactly one owner;
  other users gain access through MeterLink rows. Ownership decides
  the strong permissions (edit anything, delete), links grant the
  weaker author-scoped ones checked by the access package.

SEE ALSO:
  - access/policy.go: How ownership and links translate to permissions
  - store/sqlite: Persistence, including the per-owner label uniqueness
*/
package billing

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxLabelLength bounds the user-facing meter label.
const MaxLabelLength = 50

// Meter is one physical electricity counter. OwnerID is the user who
// registered it; shared access for other users is tracked as MeterLink
// rows, never by reassigning ownership.
type Meter struct {
	ID             MeterID
	OwnerID        UserID
	Label          string
	SerialNumber   string
	AlertThreshold *float64 // kWh per period; nil disables the alert
	CreatedAt      time.Time
}

// Validate checks the registry invariants: a non-blank label of at most
// MaxLabelLength runes and, when present, a positive alert threshold.
// Label uniqueness per owner is enforced by the persistence layer.
func (m Meter) Validate() error {
	label := strings.TrimSpace(m.Label)
	if label == "" {
		return &MeterValidationError{Field: "label", Reason: "label is required"}
	}
	if utf8.RuneCountInString(label) > MaxLabelLength {
		return &MeterValidationError{Field: "label", Reason: fmt.Sprintf("label exceeds %d characters", MaxLabelLength)}
	}
	if m.AlertThreshold != nil && *m.AlertThreshold <= 0 {
		return &MeterValidationError{Field: "alert_threshold", Reason: "threshold must be greater than zero"}
	}
	return nil
}

// MeterLink grants a non-owner user access to a meter. A user is linked
// to a meter at most once.
type MeterLink struct {
	ID        string
	UserID    UserID
	MeterID   MeterID
	CreatedAt time.Time
}
