package rooms

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	DefaultCodeLength = 5
	MinCodeLength     = 4
	MaxCodeLength     = 12
)

// RandomCodes returns a generator of uppercase alphanumeric room codes of the
// given length, drawn from crypto/rand.
func RandomCodes(length int) func() string {
	if length < MinCodeLength || length > MaxCodeLength {
		panic(fmt.Sprintf("rooms: code length %d out of range [%d, %d]", length, MinCodeLength, MaxCodeLength))
	}
	max := big.NewInt(int64(len(codeAlphabet)))
	return func() string {
		b := make([]byte, length)
		for i := range b {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				// crypto/rand only fails when the OS entropy source is gone.
				panic(fmt.Sprintf("rooms: read random: %v", err))
			}
			b[i] = codeAlphabet[n.Int64()]
		}
		return string(b)
	}
}
