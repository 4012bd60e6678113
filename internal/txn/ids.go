package txn

import (
	"github.com/google/uuid"
)

// IDGenerator names transactions. The id appears in commit records,
// trace spans and Result; it has no bearing on glyph ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator issues UUIDv7 strings, which sort by creation time.
// The zero value is ready to use from any goroutine.
type UUIDv7Generator struct{}

func (UUIDv7Generator) Generate() string {
	// NewV7 only fails when the random source does.
	return uuid.Must(uuid.NewV7()).String()
}
