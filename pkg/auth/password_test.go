package auth

import (
	"errors"
	"testing"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "correct horse" {
		t.Fatal("hash must not equal the plaintext")
	}
	if !CheckPassword("correct horse", hash) {
		t.Fatal("correct password rejected")
	}
	if CheckPassword("wrong horse", hash) {
		t.Fatal("wrong password accepted")
	}
}

func TestHashPasswordProducesUniqueHashes(t *testing.T) {
	first, err := HashPassword("same input")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	second, err := HashPassword("same input")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if first == second {
		t.Fatal("two hashes of the same password must differ (salted)")
	}
}

func TestValidatePasswordLength(t *testing.T) {
	if err := ValidatePassword("12345"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("5 chars expected ErrPasswordTooShort, got %v", err)
	}
	if err := ValidatePassword("123456"); err != nil {
		t.Fatalf("6 chars expected valid, got %v", err)
	}
}
