package chatauth

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// passwordLength and passwordAlphabet are spec.md §4.10's constraints: 10
// characters, excluding the digits/letters that are easy to confuse with
// one another in a chat client's font (0/O, 1/l).
const passwordLength = 10

const passwordAlphabet = "23456789abcdefghijkmnpqrstuvwxyzABCDEFGHIJKMNPQRSTUVWXYZ"

// generatePassword draws passwordLength characters uniformly from
// passwordAlphabet using crypto/rand. No ecosystem library in the
// retrieved pack generates constrained-alphabet tokens; crypto/rand
// itself is the only correct primitive for this regardless (any
// convenience wrapper would still bottom out calling it), so this stays
// on the standard library.
func generatePassword() (string, error) {
	alphabetSize := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, passwordLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("chatauth: generate password: %w", err)
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}
