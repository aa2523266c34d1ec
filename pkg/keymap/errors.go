package keymap

import "errors"

// Keymap errors
var (
	ErrNotFound          = errors.New("keymap entry not found")
	ErrRedirectCycle     = errors.New("redirect would create a cycle")
	ErrRedirectTooLong   = errors.New("redirect chain too long")
	ErrMigrationRequired = errors.New("missing migration")
	ErrReservedModel     = errors.New("model name is reserved")
	ErrUnknownMigration  = errors.New("unknown migration")
)
