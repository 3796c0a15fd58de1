package models

import (
	"time"

	"github.com/google/uuid"
)

type LedgerReason string

const (
	ReasonUsage  LedgerReason = "usage"
	ReasonRefund LedgerReason = "refund"
	// ReasonGrant credits an account outside of a turn (seeding, top-ups)
	ReasonGrant LedgerReason = "grant"
)

// LedgerEntry is an append-only signed credit delta. (TurnID, Reason) is unique.
type LedgerEntry struct {
	ID        uuid.UUID    `db:"id" json:"id"`
	AccountID uuid.UUID    `db:"account_id" json:"account_id"`
	TurnID    uuid.UUID    `db:"turn_id" json:"turn_id"`
	Delta     int64        `db:"delta" json:"delta"`
	Reason    LedgerReason `db:"reason" json:"reason"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}
