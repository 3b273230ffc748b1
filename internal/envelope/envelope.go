// Package envelope converts JSON value trees to and from their on-disk form.
//
// Two forms exist. The plain form is the JSON text of the value. The sealed
// form is a JSON object holding the AES-256-CBC ciphertext of the
// zlib-compressed JSON text, together with the salt and IV needed to derive
// the key again from the password:
//
//	{"version":1,"encrypted":true,"kdf":"pbkdf2-sha256","iterations":100000,
//	 "compression":"zlib","salt":"<hex>","iv":"<hex>","check":"<hex>",
//	 "mac":"<hex>","ciphertext":"<base64>"}
//
// The key is PBKDF2-HMAC-SHA256(password, salt, Iterations). A separate MAC
// key is expanded from it with HKDF. "check" is an HMAC of a fixed label and
// lets Open tell a wrong password apart from a damaged file; "mac" covers the
// IV and ciphertext.
package envelope

import (
	"errors"
)

const (
	// Version is the sealed envelope format version written by Seal.
	Version = 1
	// Iterations is the PBKDF2 iteration count used by Seal.
	Iterations = 100000

	saltSize = 16
	keySize  = 32

	kdfPBKDF2SHA256 = "pbkdf2-sha256"
	compressionZlib = "zlib"
	// maxIterations bounds the work a crafted file can make Open do.
	maxIterations = 10_000_000
)

var (
	// ErrEncryptionFailed is returned when a value cannot be sealed.
	ErrEncryptionFailed = errors.New("encryption failed")
	// ErrDecryptionFailed is returned when a sealed envelope is malformed or
	// damaged.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrIncorrectPassword is returned when the password does not match the one
	// used to seal the envelope. It wraps ErrDecryptionFailed.
	ErrIncorrectPassword error = &passwordError{}
)

type passwordError struct{}

func (*passwordError) Error() string { return "incorrect password" }

func (*passwordError) Unwrap() error { return ErrDecryptionFailed }

// sealed is the on-disk JSON shape of an encrypted envelope.
type sealed struct {
	Version     int    `json:"version"`
	Encrypted   bool   `json:"encrypted"`
	KDF         string `json:"kdf"`
	Iterations  int    `json:"iterations"`
	Compression string `json:"compression,omitempty"`
	Salt        string `json:"salt"`
	IV          string `json:"iv"`
	Check       string `json:"check,omitempty"`
	MAC         string `json:"mac,omitempty"`
	Ciphertext  string `json:"ciphertext"`
}

// Validate checks that the envelope header is well-formed.
func (s *sealed) Validate() error {
	if s.Version != Version {
		return errors.New("unsupported envelope version")
	}
	if !s.Encrypted {
		return errors.New("envelope is not marked as encrypted")
	}
	if s.KDF != kdfPBKDF2SHA256 {
		return errors.New("unsupported key derivation function")
	}
	if s.Iterations <= 0 || s.Iterations > maxIterations {
		return errors.New("iteration count out of range")
	}
	if s.Compression != "" && s.Compression != compressionZlib {
		return errors.New("unsupported compression")
	}
	if s.Salt == "" || s.IV == "" || s.Ciphertext == "" {
		return errors.New("salt, iv and ciphertext are required")
	}
	if (s.Check == "") != (s.MAC == "") {
		return errors.New("check and mac must both be set or both be empty")
	}
	return nil
}
