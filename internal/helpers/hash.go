package helpers

import (
	"crypto/sha256"

	"github.com/btcsuite/btcutil/base58"
)

// Fingerprint returns a short base58 digest of secret, safe to log. Two
// deployments print the same value only when they load the same secret.
func Fingerprint(secret []byte) string {
	sum := sha256.Sum256(secret)
	return base58.Encode(sum[:4])
}
