package storage

import "errors"

var (
	// ErrAccountNotFound is returned when an account is not found
	ErrAccountNotFound = errors.New("account not found")

	// ErrModelNotFound is returned when a model is not found
	ErrModelNotFound = errors.New("model not found")

	// ErrConversationNotFound is returned when a conversation is not found
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrImageAssetNotFound is returned when an image asset row is missing
	ErrImageAssetNotFound = errors.New("image asset not found")

	// ErrInsufficientCredit is returned when a debit would make a balance negative
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrDuplicateLedgerEntry is returned when a turn already has an entry with the same reason
	ErrDuplicateLedgerEntry = errors.New("ledger entry already recorded for turn")

	// ErrContextLimitExceeded is returned when an append would push total_tokens past the limit
	ErrContextLimitExceeded = errors.New("context limit exceeded")
)
