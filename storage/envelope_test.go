package storage

import (
	"bytes"
	"testing"

	"github.com/jmcleod/ironca/internal/util"
)

func TestEnvelope(t *testing.T) {
	key, _ := util.NewAESKey()
	plain := []byte("top secret")
	aad := []byte("context")

	env, err := SealRecord(key, plain, aad, 3)
	if err != nil {
		t.Fatalf("SealRecord failed: %v", err)
	}
	if env.Ver != 1 || env.Version != 3 {
		t.Errorf("unexpected envelope header: %+v", env)
	}

	decrypted, err := OpenRecord(key, env, aad)
	if err != nil {
		t.Fatalf("OpenRecord failed: %v", err)
	}
	if !bytes.Equal(plain, decrypted) {
		t.Errorf("expected %s, got %s", plain, decrypted)
	}

	t.Run("WrongAAD", func(t *testing.T) {
		if _, err := OpenRecord(key, env, []byte("wrong context")); err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("WrongKey", func(t *testing.T) {
		wrongKey, _ := util.NewAESKey()
		if _, err := OpenRecord(wrongKey, env, aad); err == nil {
			t.Error("expected error with wrong key, got nil")
		}
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		badEnv := *env
		badEnv.Ver = 99
		if _, err := OpenRecord(key, &badEnv, aad); err == nil {
			t.Error("expected error with unsupported version, got nil")
		}
	})

	t.Run("PlainIsNotSealed", func(t *testing.T) {
		if _, err := OpenRecord(key, PlainRecord(plain, 1), aad); err == nil {
			t.Error("expected scheme error opening a plain record")
		}
	})
}

func TestPlainRecord(t *testing.T) {
	payload := []byte(`{"serial":"0a"}`)
	env := PlainRecord(payload, 7)
	payload[0] = 'X'

	got, err := ReadPlain(env)
	if err != nil {
		t.Fatalf("ReadPlain failed: %v", err)
	}
	if string(got) != `{"serial":"0a"}` {
		t.Errorf("plain record should copy its payload, got %s", got)
	}
	if env.Version != 7 {
		t.Errorf("expected version 7, got %d", env.Version)
	}

	sealed, _ := SealRecord(bytes.Repeat([]byte{1}, 32), []byte("x"), nil)
	if _, err := ReadPlain(sealed); err == nil {
		t.Error("expected scheme error reading a sealed record as plain")
	}
}
