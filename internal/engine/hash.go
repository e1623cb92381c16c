package engine

import (
	"crypto/sha256"
	"encoding/hex"
)

// hashIdentity returns a short stable digest of a payment identity so logs
// can correlate an identity's requests without recording the identity.
func hashIdentity(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:6])
}
