package crypto

import (
	"errors"
	"strings"
	"testing"
)

// ============================================================
// Токены API
// ============================================================

func TestHashToken_Verify(t *testing.T) {
	hash, err := HashToken("s3cr3t-token", 4)
	if err != nil {
		t.Fatalf("HashToken failed: %v", err)
	}
	if !strings.HasPrefix(hash, "$2a$") && !strings.HasPrefix(hash, "$2b$") {
		t.Errorf("unexpected hash prefix: %s", hash[:4])
	}
	if !ValidHash(hash) {
		t.Error("ValidHash must accept generated hash")
	}

	if err := VerifyToken("s3cr3t-token", hash); err != nil {
		t.Errorf("VerifyToken failed for the right token: %v", err)
	}
	if err := VerifyToken("wrong", hash); !errors.Is(err, ErrTokenMismatch) {
		t.Errorf("expected ErrTokenMismatch, got %v", err)
	}
}

func TestHashToken_Errors(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"empty", "", ErrEmptyToken},
		{"too long", strings.Repeat("a", 73), ErrTokenTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := HashToken(tt.token, 4); !errors.Is(err, tt.wantErr) {
				t.Errorf("HashToken(%q) error = %v, want %v", tt.name, err, tt.wantErr)
			}
		})
	}
}

func TestVerifyToken_InvalidHash(t *testing.T) {
	if err := VerifyToken("token", ""); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("expected ErrInvalidHash, got %v", err)
	}
	if err := VerifyToken("token", "not-a-hash"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("expected ErrInvalidHash, got %v", err)
	}
	if ValidHash("not-a-hash") {
		t.Error("ValidHash must reject garbage")
	}
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken(16)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateToken(16)
	if len(a) != 32 {
		t.Errorf("expected 32 hex chars, got %d", len(a))
	}
	if a == b {
		t.Error("tokens must differ")
	}
}

// ============================================================
// Шифрование секретов
// ============================================================

const testKey = "0123456789abcdef0123456789abcdef"

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	plaintexts := []string{"123456:ABC-telegram-token", "", "ключ с юникодом"}

	for _, p := range plaintexts {
		ct, err := Encrypt(p, []byte(testKey))
		if err != nil {
			t.Fatalf("Encrypt(%q) failed: %v", p, err)
		}
		got, err := Decrypt(ct, []byte(testKey))
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if got != p {
			t.Errorf("round trip = %q, want %q", got, p)
		}
	}
}

func TestDecrypt_Errors(t *testing.T) {
	ct, _ := Encrypt("secret", []byte(testKey))
	otherKey := []byte("ffffffffffffffffffffffffffffffff")

	tests := []struct {
		name    string
		input   string
		key     []byte
		wantErr error
	}{
		{"short key", ct, []byte("short"), ErrInvalidKeyLength},
		{"bad base64", "!!!", []byte(testKey), ErrInvalidCiphertext},
		{"too short", "AAAA", []byte(testKey), ErrCiphertextTooShort},
		{"wrong key", ct, otherKey, ErrDecryptionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decrypt(tt.input, tt.key); !errors.Is(err, tt.wantErr) {
				t.Errorf("Decrypt error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRevealSecret(t *testing.T) {
	sealed, err := SealSecret("bot-token", testKey)
	if err != nil {
		t.Fatal(err)
	}
	if !IsEncrypted(sealed) {
		t.Fatal("sealed secret must carry the enc: prefix")
	}

	got, err := RevealSecret(sealed, testKey)
	if err != nil || got != "bot-token" {
		t.Errorf("RevealSecret = (%q, %v)", got, err)
	}

	plain, err := RevealSecret("plain-value", "")
	if err != nil || plain != "plain-value" {
		t.Errorf("plain values must pass through, got (%q, %v)", plain, err)
	}

	if _, err := RevealSecret(sealed, ""); !errors.Is(err, ErrMissingKey) {
		t.Errorf("expected ErrMissingKey, got %v", err)
	}
}
