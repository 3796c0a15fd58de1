package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is a credit-holding user. CurrentCredit is a cache of the ledger sum
// and is only changed together with a credit_ledger insert.
type Account struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Email         string    `db:"email" json:"email"`
	Role          string    `db:"role" json:"role"`
	CurrentCredit int64     `db:"current_credit" json:"current_credit"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
