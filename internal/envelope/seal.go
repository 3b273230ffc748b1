package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

var (
	checkLabel = []byte("octaviadb key check")
	macInfo    = []byte("octaviadb mac")

	errBadPadding = errors.New("invalid padding")
)

// Seal returns the sealed form of v, encrypted with a key derived from
// password and a fresh random salt.
func Seal(v any, password string) ([]byte, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal value: %w", ErrEncryptionFailed, err)
	}
	compressed, err := compress(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("%w: failed to generate salt: %w", ErrEncryptionFailed, err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("%w: failed to generate iv: %w", ErrEncryptionFailed, err)
	}

	key := deriveKey(password, salt, Iterations)
	macKey, err := deriveMACKey(key, salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}
	ciphertext, err := encryptCBC(key, iv, compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}

	s := sealed{
		Version:     Version,
		Encrypted:   true,
		KDF:         kdfPBKDF2SHA256,
		Iterations:  Iterations,
		Compression: compressionZlib,
		Salt:        hex.EncodeToString(salt),
		IV:          hex.EncodeToString(iv),
		Check:       hex.EncodeToString(sum(macKey, checkLabel)),
		MAC:         hex.EncodeToString(sum(macKey, iv, ciphertext)),
		Ciphertext:  base64.StdEncoding.EncodeToString(ciphertext),
	}
	data, err := json.Marshal(&s)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal envelope: %w", ErrEncryptionFailed, err)
	}
	return data, nil
}

// Open decrypts the sealed form in data with password and decodes the value
// into v.
//
// It returns ErrIncorrectPassword when the password does not match and
// ErrDecryptionFailed when the envelope is malformed or damaged.
func Open(data []byte, password string, v any) error {
	var s sealed
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: invalid envelope: %w", ErrDecryptionFailed, err)
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	salt, err := hex.DecodeString(s.Salt)
	if err != nil || len(salt) < saltSize {
		return fmt.Errorf("%w: invalid salt", ErrDecryptionFailed)
	}
	iv, err := hex.DecodeString(s.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return fmt.Errorf("%w: invalid iv", ErrDecryptionFailed)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(s.Ciphertext)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return fmt.Errorf("%w: invalid ciphertext", ErrDecryptionFailed)
	}

	key := deriveKey(password, salt, s.Iterations)
	authenticated := s.Check != ""
	if authenticated {
		macKey, err := deriveMACKey(key, salt)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
		}
		check, err := hex.DecodeString(s.Check)
		if err != nil {
			return fmt.Errorf("%w: invalid check", ErrDecryptionFailed)
		}
		if !hmac.Equal(check, sum(macKey, checkLabel)) {
			return ErrIncorrectPassword
		}
		mac, err := hex.DecodeString(s.MAC)
		if err != nil {
			return fmt.Errorf("%w: invalid mac", ErrDecryptionFailed)
		}
		if !hmac.Equal(mac, sum(macKey, iv, ciphertext)) {
			return fmt.Errorf("%w: ciphertext authentication failed", ErrDecryptionFailed)
		}
	}

	plain, err := decryptCBC(key, iv, ciphertext)
	if err != nil {
		if errors.Is(err, errBadPadding) && !authenticated {
			// Without a check value, a finalization failure is the only signal
			// of a wrong key.
			return ErrIncorrectPassword
		}
		return fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	if s.Compression == compressionZlib {
		if plain, err = decompress(plain); err != nil {
			return fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
		}
	}
	if err := json.Unmarshal(plain, v); err != nil {
		return fmt.Errorf("%w: failed to unmarshal value: %w", ErrDecryptionFailed, err)
	}
	return nil
}

func deriveKey(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, keySize, sha256.New)
}

func deriveMACKey(key, salt []byte) ([]byte, error) {
	macKey := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, salt, macInfo), macKey); err != nil {
		return nil, fmt.Errorf("failed to derive mac key: %w", err)
	}
	return macKey, nil
}

func sum(key []byte, parts ...[]byte) []byte {
	h := hmac.New(sha256.New, key)
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func encryptCBC(key, iv, plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("could not create block cipher: %w", err)
	}
	padded := pad(plain)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

func decryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("could not create block cipher: %w", err)
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return unpad(out)
}

// pad applies PKCS#7 padding.
func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

// unpad removes PKCS#7 padding.
func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 || len(b)%aes.BlockSize != 0 {
		return nil, errBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize {
		return nil, errBadPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errBadPadding
		}
	}
	return b[:len(b)-n], nil
}

func compress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, fmt.Errorf("failed to compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(b []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	defer func() {
		_ = zr.Close()
	}()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	return out, nil
}
