package broker

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"broker-observer/src/helpers"
	"broker-observer/src/models"
)

// -----------------------------------------------------------------------------

// refreshToken re-reads the account's token from the token store and swaps it
// in. The browser-side publisher stores tokens obfuscated, keyed by the lower
// case account id.
func (s *Session) refreshToken(ctx context.Context) error {
	field := strings.ToLower(s.account)

	enc, err := s.tokens.HGet(ctx, models.KeyBrowserToken, field)
	if err != nil {
		return helpers.NewStoreError("reading token for "+s.Tag(), err)
	}
	if enc == "" {
		return helpers.NewCredentialError("no token stored for "+s.Tag(), nil)
	}

	token, err := deobfuscate(enc, s.account)
	if err != nil {
		return helpers.NewCredentialError("stored token for "+s.Tag()+" is unreadable", err)
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	s.logger.Debug("Token refreshed from store")
	return nil
}

// -----------------------------------------------------------------------------

// deobfuscate reverses the browser-side storage encoding: base64 over an XOR
// with the upper case account id as a repeating key. This is obfuscation
// against casual inspection, not encryption.
func deobfuscate(enc, accountID string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	key := []byte(strings.ToUpper(accountID))
	if len(key) == 0 {
		return "", fmt.Errorf("empty account id")
	}

	out := make([]byte, len(raw))
	for i, b := range raw {
		out[i] = b ^ key[i%len(key)]
	}
	return string(out), nil
}
