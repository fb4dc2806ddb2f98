// ABOUTME: Thin wrapper around mautrix.Client for the session layer
// ABOUTME: Adds identity access and syncer registration as plain methods

package matrix

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Client wraps a mautrix client. Consuming packages declare the narrow
// interface slice they need; *Client satisfies all of them structurally.
type Client struct {
	*mautrix.Client
}

// Dial creates an unauthenticated client against the given homeserver.
// The caller is expected to log in or register before using it.
func Dial(homeserverURL string) (*Client, error) {
	cli, err := mautrix.NewClient(homeserverURL, "", "")
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &Client{Client: cli}, nil
}

// Identity returns the user ID the client is authenticated as. Empty until
// login or registration stored credentials on the client.
func (c *Client) Identity() id.UserID {
	return c.Client.UserID
}

// StoreCredentials records the identity and token obtained from a
// registration response on the client. Login stores its own credentials
// via ReqLogin.StoreCredentials; registration does not.
func (c *Client) StoreCredentials(userID id.UserID, accessToken string) {
	c.Client.UserID = userID
	c.Client.AccessToken = accessToken
}

// SendStateEvent narrows the embedded variadic signature to the fixed one
// the session layer consumes.
func (c *Client) SendStateEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, contentJSON interface{}) (*mautrix.RespSendEvent, error) {
	return c.Client.SendStateEvent(ctx, roomID, eventType, stateKey, contentJSON)
}

// OnEventType registers a handler on the underlying default syncer.
func (c *Client) OnEventType(eventType event.Type, handler mautrix.EventHandler) {
	if syncer, ok := c.Syncer.(*mautrix.DefaultSyncer); ok {
		syncer.OnEventType(eventType, handler)
	}
}

// OnSync registers a sync-response hook on the underlying default syncer.
func (c *Client) OnSync(handler mautrix.SyncHandler) {
	if syncer, ok := c.Syncer.(*mautrix.DefaultSyncer); ok {
		syncer.OnSync(handler)
	}
}
