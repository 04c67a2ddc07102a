package auth

// API KEYS:
// Registered API apps authenticate GET /api/v1/users with an app name and a
// key. The key is shown once, when the app is created. Only its bcrypt hash
// is stored, the same way a password would be.
//
// WHY BCRYPT FOR A RANDOM KEY?
// A leaked database must not hand out working keys. bcrypt embeds a random
// salt and a work factor in its output:
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (12 rounds → 2^12 iterations)
//	 version

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor used in production.
const defaultCost = 12

// keyBytes of randomness give a 48-character hex key, inside bcrypt's
// 72-byte input limit.
const keyBytes = 24

var ErrInvalidKey = errors.New("auth: invalid API key")

// KeyService generates, hashes and checks API keys.
//
// It's a struct so that the cost can be injected in tests: cost 4 (the
// bcrypt minimum) keeps them fast.
type KeyService struct {
	cost int
}

// NewKeyService creates a KeyService with the default cost (12).
func NewKeyService() *KeyService {
	return &KeyService{cost: defaultCost}
}

// NewKeyServiceWithCost creates a KeyService with a custom bcrypt cost.
// Tests in other packages pass bcrypt.MinCost. Do NOT use low costs in
// production.
func NewKeyServiceWithCost(cost int) *KeyService {
	return &KeyService{cost: cost}
}

// Generate returns a fresh random key and its hash.
func (k *KeyService) Generate() (key, hash string, err error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("auth: generating API key: %w", err)
	}
	key = hex.EncodeToString(buf)

	hash, err = k.Hash(key)
	if err != nil {
		return "", "", err
	}
	return key, hash, nil
}

// Hash hashes a key with bcrypt. Keys over 72 bytes are rejected because
// bcrypt would silently truncate them.
func (k *KeyService) Hash(key string) (string, error) {
	if len(key) > 72 {
		return "", fmt.Errorf("auth: API key must be 72 bytes or fewer")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), k.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing API key: %w", err)
	}
	return string(hashed), nil
}

// Verify returns nil when key matches hash and ErrInvalidKey when it
// doesn't. The comparison is constant-time.
func (k *KeyService) Verify(hash, key string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidKey
		}
		return fmt.Errorf("auth: comparing API key hash: %w", err)
	}
	return nil
}
