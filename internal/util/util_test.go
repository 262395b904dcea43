package util

import (
	"bytes"
	"errors"
	"testing"
)

func TestGCM(t *testing.T) {
	key, _ := NewAESKey()
	plainText := []byte("hello world")
	aad := []byte("context")

	t.Run("SealOpen", func(t *testing.T) {
		nonce, cipherText, err := SealGCM(key, plainText, aad)
		if err != nil {
			t.Fatalf("SealGCM failed: %v", err)
		}
		if len(nonce) != GCMNonceSize {
			t.Errorf("expected %d byte nonce, got %d", GCMNonceSize, len(nonce))
		}
		if len(cipherText) != len(plainText)+GCMTagSize {
			t.Errorf("expected tag suffix, ciphertext length %d", len(cipherText))
		}

		decrypted, err := OpenGCM(key, nonce, cipherText, aad)
		if err != nil {
			t.Fatalf("OpenGCM failed: %v", err)
		}
		if !bytes.Equal(plainText, decrypted) {
			t.Errorf("expected %s, got %s", plainText, decrypted)
		}
	})

	t.Run("TamperAAD", func(t *testing.T) {
		nonce, cipherText, _ := SealGCM(key, plainText, aad)
		_, err := OpenGCM(key, nonce, cipherText, []byte("wrong context"))
		if !errors.Is(err, ErrAuthentication) {
			t.Errorf("expected ErrAuthentication, got %v", err)
		}
	})

	t.Run("TamperCipherText", func(t *testing.T) {
		nonce, cipherText, _ := SealGCM(key, plainText, aad)
		cipherText[len(cipherText)-1] ^= 0xFF
		_, err := OpenGCM(key, nonce, cipherText, aad)
		if !errors.Is(err, ErrAuthentication) {
			t.Errorf("expected ErrAuthentication, got %v", err)
		}
	})

	t.Run("RejectBadKeySize", func(t *testing.T) {
		_, _, err := SealGCM([]byte("too short"), plainText, aad)
		if err == nil {
			t.Error("expected error with wrong key size, got nil")
		}
	})
}

func TestArgon2id(t *testing.T) {
	params := Argon2idParams{Time: 1, MemoryKiB: 64, Parallelism: 1, KeyLen: 32}
	salt := []byte("random salt")

	key1, err := DeriveArgon2idKey("correct horse battery staple", salt, params)
	if err != nil {
		t.Fatalf("DeriveArgon2idKey failed: %v", err)
	}
	if len(key1) != 32 {
		t.Errorf("expected 32 byte key, got %d", len(key1))
	}

	key2, _ := DeriveArgon2idKey("correct horse battery staple", salt, params)
	if !bytes.Equal(key1, key2) {
		t.Error("derivation should be deterministic")
	}

	key3, _ := DeriveArgon2idKey("wrong horse battery staple", salt, params)
	if bytes.Equal(key1, key3) {
		t.Error("different passphrases should derive different keys")
	}

	params.KeyLen = 16
	if _, err := DeriveArgon2idKey("x", salt, params); err == nil {
		t.Error("expected error for short key length")
	}
}

func TestRandomSerial(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		n, err := RandomSerial()
		if err != nil {
			t.Fatalf("RandomSerial failed: %v", err)
		}
		if n.Sign() <= 0 {
			t.Fatalf("serial must be positive, got %s", n)
		}
		if n.BitLen() > SerialBits {
			t.Fatalf("serial too long: %d bits", n.BitLen())
		}
		s := n.Text(16)
		if seen[s] {
			t.Fatalf("duplicate serial %s", s)
		}
		seen[s] = true
	}
}

func TestNormalizeHex(t *testing.T) {
	if got := NormalizeHex(" 0x0A:FF "); got != "0aff" {
		t.Errorf("expected 0aff, got %q", got)
	}
	b, err := HexDecode("0A:FF")
	if err != nil || !bytes.Equal(b, []byte{0x0a, 0xff}) {
		t.Errorf("unexpected decode %x, %v", b, err)
	}
}
