package crypto

import "crypto/rand"

const (
	AccountUIDLength = 16
	ShopIDLength     = 15

	idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewPublicID returns a random URL-safe identifier of the given length,
// drawn uniformly from the alphanumeric alphabet. It is never derived from
// a storage key.
func NewPublicID(length int) (string, error) {
	// Bytes at or above the largest multiple of the alphabet size are
	// rejected, so the modulo cannot skew toward the low characters.
	limit := byte(256 - 256%len(idAlphabet))
	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, idAlphabet[int(b)%len(idAlphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
