// Package security implements the credential and session manager:
// password hashing and constant-time verification, session token
// issuance, and at-rest encryption of ServerNode peer passwords keyed
// by the owner password.
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// argon2 parameters. These favour the RFC 9106 "recommended" low-memory
// profile (19 MiB, 2 passes, 1 lane) since a node may run on modest edge
// hardware; they are baked into the encoded hash so they can be tuned in
// a later release without breaking existing hashes.
const (
	argonTime    = 2
	argonMemory  = 19 * 1024
	argonThreads = 1
	argonKeyLen  = 32
	saltLen      = 16
)

// HashPassword derives a salted argon2id hash encoded as
// "$argon2id$v=19$m=...,t=...,p=...$<salt>$<hash>", self-describing so a
// future parameter change doesn't invalidate already-stored hashes.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return encodeHash(salt, hash), nil
}

// VerifyPassword reports whether password matches encoded, using a
// constant-time comparison of the derived key.
func VerifyPassword(encoded, password string) (bool, error) {
	salt, wantHash, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	gotHash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, uint32(len(wantHash)))
	return subtle.ConstantTimeCompare(gotHash, wantHash) == 1, nil
}

func encodeHash(salt, hash []byte) string {
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))
}

func decodeHash(encoded string) (salt, hash []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, nil, fmt.Errorf("decode password hash: unrecognised format")
	}
	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, fmt.Errorf("decode password hash salt: %w", err)
	}
	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, fmt.Errorf("decode password hash value: %w", err)
	}
	return salt, hash, nil
}
