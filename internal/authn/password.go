package authn

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

var errBadCredential = errors.New("authn: credential mismatch")

// VerifyCredential checks a plaintext secret against a stored hash. The
// identity stores hold a mix of formats: argon2id for records written by the
// current user-management code, bcrypt for older ones.
func VerifyCredential(hash, secret string) error {
	if hash == "" || secret == "" {
		return errBadCredential
	}
	if strings.HasPrefix(hash, "$argon2id$") {
		return verifyArgon2id(hash, secret)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return errBadCredential
	}
	return nil
}

func verifyArgon2id(encoded, secret string) error {
	parts := strings.Split(encoded, "$")
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, hash
	if len(parts) != 6 {
		return errBadCredential
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return errBadCredential
	}
	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return errBadCredential
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return errBadCredential
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return errBadCredential
	}
	got := argon2.IDKey([]byte(secret), salt, iterations, memory, parallelism, uint32(len(want)))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return errBadCredential
	}
	return nil
}
