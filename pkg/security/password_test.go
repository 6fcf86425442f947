package security_test

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/angelmondragon/bizledger-backend/pkg/config"
	"github.com/angelmondragon/bizledger-backend/pkg/security"
)

var fastParams = config.PasswordConfig{
	ArgonMemoryKB:    8 * 1024,
	ArgonTime:        1,
	ArgonParallelism: 1,
	ArgonSaltLen:     16,
	ArgonKeyLen:      32,
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := security.HashPassword("very-secure-password", fastParams)
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding %q", hash)
	}

	ok, err := security.VerifyPassword("very-secure-password", hash)
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	ok, err = security.VerifyPassword("bogus-password", hash)
	if err != nil || ok {
		t.Fatalf("expected mismatch without error, ok=%v err=%v", ok, err)
	}

	again, _ := security.HashPassword("very-secure-password", fastParams)
	if again == hash {
		t.Fatal("salts must differ between hashes")
	}
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	if _, err := security.HashPassword("", fastParams); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestVerifyPasswordBadHash(t *testing.T) {
	for _, encoded := range []string{
		"not-a-hash",
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdA",
		"$argon2id$v=16$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHQ$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$a2V5",
		"$2b$10$short",
	} {
		if _, err := security.VerifyPassword("irrelevant", encoded); err == nil {
			t.Fatalf("expected error for %q", encoded)
		}
	}
}

func TestVerifyPasswordAcceptsLegacyBcrypt(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("legacy-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	ok, err := security.VerifyPassword("legacy-secret", string(hash))
	if err != nil || !ok {
		t.Fatalf("expected legacy hash to verify, ok=%v err=%v", ok, err)
	}
	ok, err = security.VerifyPassword("wrong", string(hash))
	if err != nil || ok {
		t.Fatalf("expected mismatch without error, ok=%v err=%v", ok, err)
	}
}

func TestNeedsRehash(t *testing.T) {
	legacy, _ := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	if !security.NeedsRehash(string(legacy), fastParams) {
		t.Fatal("bcrypt hash should be flagged for rehash")
	}

	current, _ := security.HashPassword("pw", fastParams)
	if security.NeedsRehash(current, fastParams) {
		t.Fatal("hash at current cost should not be flagged")
	}

	stronger := fastParams
	stronger.ArgonTime = 2
	if !security.NeedsRehash(current, stronger) {
		t.Fatal("hash below the configured cost should be flagged")
	}
	if security.NeedsRehash("garbage", fastParams) {
		t.Fatal("unreadable hashes are not rehash candidates")
	}
}
