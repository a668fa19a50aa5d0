package testutil

import (
	"encoding/base64"
	"testing"

	"github.com/chitbox/chitbox/internal/crypto"
)

// GetTestEncryptor returns an encryptor over the fixed key 0x00..0x1f, the same
// key app tests put in CHITBOX_ENCRYPTION_KEY_BASE64.
func GetTestEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	base64Key := base64.StdEncoding.EncodeToString(key)

	encryptor, err := crypto.NewEncryptor(base64Key)
	if err != nil {
		t.Fatalf("Failed to create encryptor: %v", err)
	}
	return encryptor
}
