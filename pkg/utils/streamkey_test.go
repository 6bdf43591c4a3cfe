package utils

import (
	"strings"
	"testing"
)

func TestNewStreamKey(t *testing.T) {
	plain, hash, err := NewStreamKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(plain, "ls_") {
		t.Errorf("key %q missing ls_ prefix", plain)
	}
	if len(plain) != len("ls_")+48 {
		t.Errorf("key length = %d, want %d", len(plain), len("ls_")+48)
	}
	if hash == plain || hash == "" {
		t.Error("hash must differ from the plaintext key")
	}

	if !CheckStreamKey(plain, hash) {
		t.Error("key does not verify against its own hash")
	}
	if CheckStreamKey("ls_wrong", hash) {
		t.Error("wrong key verified")
	}
	if CheckStreamKey(plain, "") {
		t.Error("key verified against empty hash")
	}
}

func TestStreamKeysAreUnique(t *testing.T) {
	a, _, err := NewStreamKey()
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := NewStreamKey()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two generated keys are identical")
	}
}
