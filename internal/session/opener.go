// ABOUTME: Production session opener backed by the mautrix client wrapper
// ABOUTME: Dials the homeserver, resolves credentials, builds the session

package session

import (
	"context"
	"log/slog"

	"maunium.net/go/mautrix/id"

	"github.com/alkem-io/matrix-adapter/internal/matrix"
)

// The production wrapper must keep satisfying the client interface.
var _ Client = (*matrix.Client)(nil)

// OpenerConfig configures the production session opener.
type OpenerConfig struct {
	HomeserverURL string
	// PasswordSecret seeds the deterministic per-identity passwords.
	PasswordSecret []byte
	// Options are installed on every opened session.
	Options Options
	Logger  *slog.Logger
}

// NewOpener returns an Opener that dials the configured homeserver,
// registers the identity when its username is still free and logs in
// otherwise.
func NewOpener(cfg OpenerConfig) Opener {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, identity id.UserID) (*Session, error) {
		client, err := matrix.Dial(cfg.HomeserverURL)
		if err != nil {
			return nil, err
		}
		password := DerivePassword(identity, cfg.PasswordSecret)
		if err := resolveCredentials(ctx, client, identity, password); err != nil {
			return nil, err
		}
		return New(client, cfg.Options, logger), nil
	}
}
