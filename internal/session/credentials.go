// ABOUTME: Credential resolution against the homeserver for pool misses
// ABOUTME: Registers free usernames, logs in existing ones, derives passwords

package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// Sentinel errors for credential resolution failures.
var (
	ErrLoginFailed        = errors.New("login failed")
	ErrRegistrationFailed = errors.New("registration failed")
)

const (
	passwordRounds    = 4096
	passwordKeyLength = 32

	deviceDisplayName = "matrix-adapter"
)

// authClient is the slice of the protocol client used during credential
// resolution, before a session exists.
type authClient interface {
	Login(ctx context.Context, req *mautrix.ReqLogin) (*mautrix.RespLogin, error)
	RegisterDummy(ctx context.Context, req *mautrix.ReqRegister) (*mautrix.RespRegister, error)
	RegisterAvailable(ctx context.Context, username string) (*mautrix.RespRegisterAvailable, error)
	StoreCredentials(userID id.UserID, accessToken string)
}

// DerivePassword computes the deterministic protocol password for an
// identity from the configured adapter secret. Identical inputs always
// produce the same password, so accounts survive adapter restarts without
// a credential store.
func DerivePassword(identity id.UserID, secret []byte) string {
	key := pbkdf2.Key(secret, []byte(identity), passwordRounds, passwordKeyLength, sha256.New)
	return hex.EncodeToString(key)
}

// resolveCredentials authenticates the client as the given identity:
// registration when the username is still free, password login otherwise.
// The client carries stored credentials on success.
func resolveCredentials(ctx context.Context, client authClient, identity id.UserID, password string) error {
	localpart, _, err := identity.Parse()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}

	available := false
	resp, err := client.RegisterAvailable(ctx, localpart)
	switch {
	case err == nil:
		available = resp.Available
	case errors.Is(err, mautrix.MUserInUse):
		// Taken, fall through to login.
	default:
		return fmt.Errorf("checking username availability for %s: %w", identity, err)
	}

	if available {
		registered, err := client.RegisterDummy(ctx, &mautrix.ReqRegister{
			Username:                 localpart,
			Password:                 password,
			InitialDeviceDisplayName: deviceDisplayName,
		})
		if err != nil {
			return fmt.Errorf("%w for %s: %v", ErrRegistrationFailed, identity, err)
		}
		client.StoreCredentials(registered.UserID, registered.AccessToken)
		return nil
	}

	_, err = client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: localpart,
		},
		Password:                 password,
		InitialDeviceDisplayName: deviceDisplayName,
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("%w for %s: %v", ErrLoginFailed, identity, err)
	}
	return nil
}
