// Package auth implements spec.md §4.7: API token generation and
// validation, symmetric-encrypted email confirmation tokens, bearer
// extraction, and the PKCE OAuth code exchange. Grounded on the original
// ayb's fernet + prefixed_api_key + subtle-constant-time design, reworked
// onto golang.org/x/crypto/nacl/secretbox and crypto/subtle.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/marcua/ayb/common"
	"github.com/marcua/ayb/internal/metadata"
)

const apiTokenPrefix = "ayb"

// shortTokenBytes and secretBytes mirror prefixed_api_key's default sizes:
// enough entropy in the secret to make brute force infeasible, a short
// token long enough to be a useful, low-collision lookup key.
const (
	shortTokenBytes = 8
	secretBytes     = 24
)

// GeneratedToken is the plaintext token returned to the caller exactly
// once, alongside the record persisted to the metadata store.
type GeneratedToken struct {
	Record metadata.APIToken
	Token  string
}

// GenerateAPIToken mints a fresh, unscoped API token for entityID.
func GenerateAPIToken(entityID int64) (*GeneratedToken, error) {
	return generateToken(entityID, nil, nil, nil, nil)
}

// GenerateScopedAPIToken mints a token restricted to databaseID at
// queryPermissionLevel, as produced by the OAuth code exchange.
func GenerateScopedAPIToken(entityID, databaseID int64, level metadata.QueryPermissionLevel, appName *string) (*GeneratedToken, error) {
	return generateToken(entityID, &databaseID, &level, appName, nil)
}

func generateToken(entityID int64, databaseID *int64, level *metadata.QueryPermissionLevel, appName *string, expiresAt *time.Time) (*GeneratedToken, error) {
	short, err := randomBase64URL(shortTokenBytes)
	if err != nil {
		return nil, common.Wrap(common.KindIO, "generating token short id", err)
	}

	secret, err := randomBase64URL(secretBytes)
	if err != nil {
		return nil, common.Wrap(common.KindIO, "generating token secret", err)
	}

	hash := hashSecret(secret)

	return &GeneratedToken{
		Record: metadata.APIToken{
			EntityID:             entityID,
			ShortToken:           short,
			Hash:                 hash,
			DatabaseID:           databaseID,
			QueryPermissionLevel: level,
			AppName:              appName,
			CreatedAt:            time.Now(),
			ExpiresAt:            expiresAt,
		},
		Token: fmt.Sprintf("%s_%s_%s", apiTokenPrefix, short, secret),
	}, nil
}

func randomBase64URL(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ParseToken splits a presented token into its short and secret parts.
func ParseToken(token string) (short, secret string, err error) {
	parts := strings.SplitN(token, "_", 3)
	if len(parts) != 3 || parts[0] != apiTokenPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", common.New(common.KindInvalidToken, "malformed API token")
	}

	return parts[1], parts[2], nil
}

// APITokenStore is the narrow slice of metadata.Store the validator needs,
// kept separate so callers don't have to construct a full store for tests.
type APITokenStore interface {
	GetAPIToken(ctx context.Context, shortToken string) (*metadata.APIToken, error)
}

// ValidateAPIToken looks up the token named by presented by its short
// portion, verifies the secret hash in constant time, and checks that it
// is neither revoked nor expired. Every failure mode returns the same
// non-leaking InvalidToken message.
func ValidateAPIToken(ctx context.Context, store APITokenStore, presented string) (*metadata.APIToken, error) {
	invalid := common.New(common.KindInvalidToken, "invalid API token")

	short, secret, err := ParseToken(presented)
	if err != nil {
		return nil, invalid
	}

	record, err := store.GetAPIToken(ctx, short)
	if err != nil {
		return nil, invalid
	}

	if subtle.ConstantTimeCompare([]byte(hashSecret(secret)), []byte(record.Hash)) != 1 {
		return nil, invalid
	}

	if !record.IsValid(time.Now()) {
		return nil, invalid
	}

	return record, nil
}
