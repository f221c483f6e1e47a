package grid

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
)

// idEncoding is lowercase base32 without padding, which keeps ids URL-safe
// and filesystem-safe.
var idEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a fresh 128-bit random identifier, base32-encoded without
// padding (26 characters). Used for artifact, namespace, and checkpoint ids.
func NewID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic("grid: rand.Read: " + err.Error())
	}
	return strings.ToLower(idEncoding.EncodeToString(b[:]))
}
