package model

import (
	"strings"

	"github.com/google/uuid"
)

// idNamespace scopes every identifier minted by the engine.
var idNamespace = uuid.MustParse("6f1c2a8e-4b7d-5e3f-9a10-2c4d6e8f0a1b")

// NewID returns a name-based (UUIDv5) identifier. The same parts always give
// the same id, so replaying a session reproduces identical references.
func NewID(parts ...string) string {
	return uuid.NewSHA1(idNamespace, []byte(strings.Join(parts, "|"))).String()
}
