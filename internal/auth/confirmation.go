package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"time"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/marcua/ayb/common"
	"github.com/marcua/ayb/internal/metadata"
)

const nonceSize = 24

// ConfirmationPayload is the plaintext inside an encrypted confirmation
// token (spec.md §4.7).
type ConfirmationPayload struct {
	Version      int               `json:"version"`
	EntitySlug   string            `json:"entity_slug"`
	EntityType   metadata.EntityType `json:"entity_type"`
	EmailAddress string            `json:"email_address"`
}

// ConfirmationKey derives the 32-byte secretbox key from the configured
// fernet_key setting, reusing that single configuration value rather than
// introducing a second secret to manage.
type ConfirmationKey [32]byte

// DeriveConfirmationKey expands an arbitrary-length configured secret into
// a fixed-size secretbox key.
func DeriveConfirmationKey(secret string) ConfirmationKey {
	return ConfirmationKey(sha256.Sum256([]byte(secret)))
}

// EncryptConfirmationToken seals payload with key, stamping the current
// time so TTL enforcement can happen at decrypt time.
func EncryptConfirmationToken(payload ConfirmationPayload, key ConfirmationKey) (string, error) {
	plain, err := json.Marshal(payload)
	if err != nil {
		return "", common.Wrap(common.KindIO, "encoding confirmation payload", err)
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", common.Wrap(common.KindIO, "generating confirmation nonce", err)
	}

	issuedAt := make([]byte, 8)
	binary.BigEndian.PutUint64(issuedAt, uint64(time.Now().Unix()))

	message := append(issuedAt, plain...)

	sealed := secretbox.Seal(nonce[:], message, &nonce, (*[32]byte)(&key))

	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// DecryptConfirmationToken opens a token sealed by EncryptConfirmationToken,
// rejecting it if older than ttl. Any failure — bad encoding, wrong key,
// corrupt box, or expiry — fails closed as InvalidToken, never leaking
// which.
func DecryptConfirmationToken(token string, key ConfirmationKey, ttl time.Duration) (*ConfirmationPayload, error) {
	invalid := common.New(common.KindInvalidToken, "invalid or expired confirmation token")

	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(sealed) < nonceSize {
		return nil, invalid
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	opened, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, (*[32]byte)(&key))
	if !ok || len(opened) < 8 {
		return nil, invalid
	}

	issuedAt := time.Unix(int64(binary.BigEndian.Uint64(opened[:8])), 0)
	if time.Since(issuedAt) > ttl {
		return nil, invalid
	}

	var payload ConfirmationPayload
	if err := json.Unmarshal(opened[8:], &payload); err != nil {
		return nil, invalid
	}

	return &payload, nil
}
