// ABOUTME: Bidirectional derivation between platform emails and Matrix identities
// ABOUTME: Lowercases and strips the local part, joins it to the domain with "="

package session

import (
	"errors"
	"fmt"
	"strings"

	"maunium.net/go/mautrix/id"
)

// ErrInvalidIdentity is returned for empty or malformed identities and
// emails that cannot be mapped to one.
var ErrInvalidIdentity = errors.New("invalid identity")

// localpartSeparator joins the email local part and domain inside a Matrix
// localpart, where "@" is not a legal character.
const localpartSeparator = "="

// IdentityFromEmail derives the Matrix identity for a platform email.
// The mapping is deterministic: the email is lowercased, characters outside
// [a-z0-9._-] are stripped from the local part, and local part and domain
// are joined with "=". "John.Doe@example.com" on server "matrix.local"
// becomes "@john.doe=example.com:matrix.local".
func IdentityFromEmail(email, serverName string) (id.UserID, error) {
	if serverName == "" {
		return "", fmt.Errorf("%w: server name is empty", ErrInvalidIdentity)
	}
	email = strings.ToLower(strings.TrimSpace(email))
	local, domain, found := strings.Cut(email, "@")
	if !found || local == "" || domain == "" {
		return "", fmt.Errorf("%w: %q is not an email address", ErrInvalidIdentity, email)
	}
	local = stripSpecial(local)
	if local == "" {
		return "", fmt.Errorf("%w: email local part %q has no usable characters", ErrInvalidIdentity, email)
	}
	return id.NewUserID(local+localpartSeparator+domain, serverName), nil
}

// EmailFromIdentity reverses IdentityFromEmail. It fails on identities
// whose localpart does not carry the "=" separator.
func EmailFromIdentity(identity id.UserID) (string, error) {
	localpart, _, err := identity.Parse()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	local, domain, found := strings.Cut(localpart, localpartSeparator)
	if !found || local == "" || domain == "" {
		return "", fmt.Errorf("%w: %q does not encode an email", ErrInvalidIdentity, identity)
	}
	return local + "@" + domain, nil
}

// stripSpecial drops every character outside [a-z0-9._-].
func stripSpecial(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}
