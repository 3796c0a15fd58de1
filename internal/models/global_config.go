package models

// GlobalConfig is the singleton row (id = 1) holding the directive sent before every conversation.
type GlobalConfig struct {
	ID            int     `db:"id"`
	SystemMessage *string `db:"system_message"`
}
