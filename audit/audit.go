/*
Package audit records who did what, when, in an append-only activity log.

PURPOSE:
  Every security- or money-relevant action in the engine lands here:
  logins and failures, reading changes, tariff replacements, account
  lifecycle. The log is for the household administrator to read, so the
  default sink is a CSV file that opens directly in a spreadsheet.

KEY CONCEPTS:
  - Kind: Closed set of event types; details are free-form text
  - Append-only: Entries are never updated or deleted
  - Best-effort: A failing audit write is reported to the caller but
    must never abort the business operation that produced it

USAGE:
  log, _ := audit.NewCSVLog("data/activity_log.csv")
  defer log.Close()
  log.Append(ctx, audit.Entry{ActorID: userID, Kind: audit.KindLogin,
      Details: "user: admin"})
*/
package audit

import (
	"context"
	"time"

	"github.com/wattline/billing-engine/billing"
)

// =============================================================================
// EVENT KINDS
// =============================================================================

type Kind string

const (
	KindLogin            Kind = "Login"
	KindLoginFailed      Kind = "LoginFailed"
	KindLogout           Kind = "Logout"
	KindReadingCreated   Kind = "ReadingCreated"
	KindReadingEdited    Kind = "ReadingEdited"
	KindReadingDeleted   Kind = "ReadingDeleted"
	KindRolloverDetected Kind = "RolloverDetected"
	KindTariffChanged    Kind = "TariffChanged"
	KindUserCreated      Kind = "UserCreated"
	KindUserDeactivated  Kind = "UserDeactivated"
	KindUserTransferred  Kind = "UserTransferred"
	KindBackupCreated    Kind = "BackupCreated"
	KindBackupRestored   Kind = "BackupRestored"
	KindMeterCreated     Kind = "MeterCreated"
	KindMeterDeleted     Kind = "MeterDeleted"
	KindLinkCreated      Kind = "LinkCreated"
	KindLinkDeleted      Kind = "LinkDeleted"
	KindPasswordChanged  Kind = "PasswordChanged"
	KindPasswordReset    Kind = "PasswordReset"
)

// =============================================================================
// ENTRY AND LOG
// =============================================================================

// Entry is one audit record. ActorID may be empty for events without an
// authenticated actor (failed logins). A zero Time is stamped by the log
// at append time.
type Entry struct {
	Time    time.Time
	ActorID billing.UserID
	Kind    Kind
	Details string
}

// Log stores audit entries. Append-only.
type Log interface {
	Append(ctx context.Context, e Entry) error
}

// Nop discards everything. Used in tests and as a safe default.
type Nop struct{}

func (Nop) Append(context.Context, Entry) error { return nil }
