package postgres

import (
	"errors"
	"testing"
)

var testKey = []byte("01234567890123456789012345678901")

func TestSecretEncryptor_RoundTrip(t *testing.T) {
	encryptor, err := NewSecretEncryptor(testKey)
	if err != nil {
		t.Fatalf("NewSecretEncryptor: %v", err)
	}

	original := tokenSecrets{AccessToken: "fx-access", RefreshToken: "fx-refresh"}

	blob, err := encryptor.Seal("consent-1", original)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if blob[0] != secretVersion {
		t.Errorf("version byte: got %d, want %d", blob[0], secretVersion)
	}

	var decrypted tokenSecrets
	if err := encryptor.Open("consent-1", blob, &decrypted); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if decrypted != original {
		t.Errorf("got %+v, want %+v", decrypted, original)
	}
}

func TestSecretEncryptor_BoundToOwner(t *testing.T) {
	encryptor, _ := NewSecretEncryptor(testKey)

	blob, err := encryptor.Seal("consent-1", tokenSecrets{AccessToken: "a"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	var out tokenSecrets
	if err := encryptor.Open("consent-2", blob, &out); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed for another owner, got %v", err)
	}
}

func TestSecretEncryptor_InvalidKeySize(t *testing.T) {
	for _, size := range []int{0, 16, 64} {
		if _, err := NewSecretEncryptor(make([]byte, size)); !errors.Is(err, ErrInvalidKeySize) {
			t.Errorf("size %d: expected ErrInvalidKeySize, got %v", size, err)
		}
	}
}

func TestSecretEncryptor_OpenInvalidBlob(t *testing.T) {
	encryptor, _ := NewSecretEncryptor(testKey)

	tests := []struct {
		name string
		blob []byte
		want error
	}{
		{"empty", []byte{}, ErrInvalidBlobSize},
		{"too short", []byte{0x01, 0x02}, ErrInvalidBlobSize},
		{"wrong version", append([]byte{0x99}, make([]byte, 100)...), ErrUnsupportedVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out tokenSecrets
			if err := encryptor.Open("c", tt.blob, &out); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSecretEncryptor_WrongKey(t *testing.T) {
	enc1, _ := NewSecretEncryptor(testKey)
	enc2, _ := NewSecretEncryptor([]byte("10987654321098765432109876543210"))

	blob, err := enc1.Seal("c", tokenSecrets{AccessToken: "secret"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	var out tokenSecrets
	if err := enc2.Open("c", blob, &out); err == nil {
		t.Error("expected error when decrypting with wrong key")
	}
}

func TestSecretEncryptor_UniqueNonce(t *testing.T) {
	encryptor, _ := NewSecretEncryptor(testKey)

	nonces := make(map[string]bool)
	for i := 0; i < 10; i++ {
		blob, err := encryptor.Seal("c", tokenSecrets{AccessToken: "same"})
		if err != nil {
			t.Fatalf("Seal %d: %v", i, err)
		}
		nonce := string(blob[1 : 1+nonceSize])
		if nonces[nonce] {
			t.Errorf("duplicate nonce at index %d", i)
		}
		nonces[nonce] = true
	}
}
