package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// NewStreamKey generates an ingest credential and its bcrypt hash. Only the
// hash is persisted; the plaintext is handed to the broadcaster once.
func NewStreamKey() (plain, hash string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("stream key entropy: %w", err)
	}
	plain = "ls_" + hex.EncodeToString(buf)
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return plain, string(h), nil
}

// CheckStreamKey compares a presented stream key with the stored hash.
func CheckStreamKey(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
