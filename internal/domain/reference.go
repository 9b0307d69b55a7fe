package domain

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	ReferencePrefix   = "NVY-"
	referenceLength   = 6
	referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewReference returns a random NVY-XXXXXX booking reference.
func NewReference() (string, error) {
	var sb strings.Builder
	sb.Grow(len(ReferencePrefix) + referenceLength)
	sb.WriteString(ReferencePrefix)

	max := big.NewInt(int64(len(referenceAlphabet)))
	for i := 0; i < referenceLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(referenceAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

func ValidReference(ref string) bool {
	if len(ref) != len(ReferencePrefix)+referenceLength || !strings.HasPrefix(ref, ReferencePrefix) {
		return false
	}
	for _, c := range ref[len(ReferencePrefix):] {
		if !strings.ContainsRune(referenceAlphabet, c) {
			return false
		}
	}
	return true
}
