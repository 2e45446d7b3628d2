// Package hexid generates the short random identifiers used for log file
// names and stream consumer handles.
package hexid

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns an 8-character lowercase hex string (4 random bytes). It
// panics only if the system entropy source fails.
func New() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		panic("hexid: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
