package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcua/ayb/common"
	"github.com/marcua/ayb/internal/metadata"
)

func sha256Sum(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

type fakeAPITokenStore struct {
	records map[string]*metadata.APIToken
}

func (f *fakeAPITokenStore) GetAPIToken(_ context.Context, shortToken string) (*metadata.APIToken, error) {
	record, ok := f.records[shortToken]
	if !ok {
		return nil, common.NotFound("api_token")
	}

	return record, nil
}

func TestGenerateAndValidateAPIToken(t *testing.T) {
	generated, err := GenerateAPIToken(42)
	require.NoError(t, err)

	store := &fakeAPITokenStore{records: map[string]*metadata.APIToken{
		generated.Record.ShortToken: &generated.Record,
	}}

	validated, err := ValidateAPIToken(context.Background(), store, generated.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), validated.EntityID)
}

func TestValidateAPITokenRejectsTamperedSecret(t *testing.T) {
	generated, err := GenerateAPIToken(1)
	require.NoError(t, err)

	store := &fakeAPITokenStore{records: map[string]*metadata.APIToken{
		generated.Record.ShortToken: &generated.Record,
	}}

	replacement := "x"
	if generated.Token[len(generated.Token)-1] == 'x' {
		replacement = "y"
	}

	tampered := generated.Token[:len(generated.Token)-1] + replacement

	_, err = ValidateAPIToken(context.Background(), store, tampered)
	require.Error(t, err)
	assert.Equal(t, common.KindInvalidToken, common.KindOf(err))
}

func TestValidateAPITokenRejectsRevoked(t *testing.T) {
	generated, err := GenerateAPIToken(1)
	require.NoError(t, err)

	revokedAt := time.Now()
	generated.Record.RevokedAt = &revokedAt

	store := &fakeAPITokenStore{records: map[string]*metadata.APIToken{
		generated.Record.ShortToken: &generated.Record,
	}}

	_, err = ValidateAPIToken(context.Background(), store, generated.Token)
	require.Error(t, err)
	assert.Equal(t, common.KindInvalidToken, common.KindOf(err))
}

func TestValidateAPITokenRejectsExpired(t *testing.T) {
	generated, err := GenerateAPIToken(1)
	require.NoError(t, err)

	expired := time.Now().Add(-time.Hour)
	generated.Record.ExpiresAt = &expired

	store := &fakeAPITokenStore{records: map[string]*metadata.APIToken{
		generated.Record.ShortToken: &generated.Record,
	}}

	_, err = ValidateAPIToken(context.Background(), store, generated.Token)
	require.Error(t, err)
}

func TestParseTokenRejectsMalformed(t *testing.T) {
	_, _, err := ParseToken("not-a-token")
	assert.Error(t, err)

	_, _, err = ParseToken("ayb_onlyshort")
	assert.Error(t, err)
}

func TestConfirmationTokenRoundTrip(t *testing.T) {
	key := DeriveConfirmationKey("test-fernet-key")

	payload := ConfirmationPayload{
		Version:      1,
		EntitySlug:   "alice",
		EntityType:   metadata.EntityTypeUser,
		EmailAddress: "alice@example.com",
	}

	token, err := EncryptConfirmationToken(payload, key)
	require.NoError(t, err)

	decoded, err := DecryptConfirmationToken(token, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, payload, *decoded)
}

func TestConfirmationTokenRejectsExpired(t *testing.T) {
	key := DeriveConfirmationKey("test-fernet-key")

	token, err := EncryptConfirmationToken(ConfirmationPayload{EntitySlug: "alice"}, key)
	require.NoError(t, err)

	_, err = DecryptConfirmationToken(token, key, -time.Second)
	assert.Error(t, err)
}

func TestConfirmationTokenRejectsWrongKey(t *testing.T) {
	key := DeriveConfirmationKey("key-one")
	otherKey := DeriveConfirmationKey("key-two")

	token, err := EncryptConfirmationToken(ConfirmationPayload{EntitySlug: "alice"}, key)
	require.NoError(t, err)

	_, err = DecryptConfirmationToken(token, otherKey, time.Hour)
	assert.Error(t, err)
}

func TestVerifyPKCE(t *testing.T) {
	verifier := "a-random-verifier-string-that-is-long-enough"
	challenge := "invalid-challenge"

	assert.False(t, VerifyPKCE(verifier, challenge))

	sum := sha256Sum(verifier)
	assert.True(t, VerifyPKCE(verifier, sum))
}

func TestExtractBearerToken(t *testing.T) {
	token, ok := ExtractBearerToken("Bearer abc123")
	assert.True(t, ok)
	assert.Equal(t, "abc123", token)

	_, ok = ExtractBearerToken("Basic abc123")
	assert.False(t, ok)

	_, ok = ExtractBearerToken("Bearer ")
	assert.False(t, ok)
}

func TestMatchesEntitySlug(t *testing.T) {
	assert.True(t, MatchesEntitySlug("Alice", "alice"))
	assert.False(t, MatchesEntitySlug("bob", "alice"))
}
