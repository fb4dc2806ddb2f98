// ABOUTME: Service composing pool, elevated session, breaker, converter
// ABOUTME: Message, reaction and direct-message operations

package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"maunium.net/go/mautrix/id"

	"github.com/alkem-io/matrix-adapter/internal/breaker"
	"github.com/alkem-io/matrix-adapter/internal/direct"
	"github.com/alkem-io/matrix-adapter/internal/session"
	"github.com/alkem-io/matrix-adapter/internal/timeline"
)

// Config wires a Service.
type Config struct {
	Pool      *session.Pool
	Elevated  *session.Elevated
	Peek      *breaker.Breaker
	Converter *timeline.Converter
	Direct    *direct.Resolver
	// AllowRegistration gates RegisterNewUser.
	AllowRegistration bool
	Logger            *slog.Logger
}

// Service is the operation surface exposed to the controller layer.
type Service struct {
	pool              *session.Pool
	elevated          *session.Elevated
	peek              *breaker.Breaker
	converter         *timeline.Converter
	direct            *direct.Resolver
	allowRegistration bool
	logger            *slog.Logger
}

// New creates a Service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pool:              cfg.Pool,
		elevated:          cfg.Elevated,
		peek:              cfg.Peek,
		converter:         cfg.Converter,
		direct:            cfg.Direct,
		allowRegistration: cfg.AllowRegistration,
		logger:            logger.With("component", "adapter"),
	}
}

// SendMessage sends a message into a room on behalf of the sender and
// returns its domain view. The sender is joined to the room first when
// necessary; join failures are logged, not fatal, since membership
// convergence is eventually consistent.
func (svc *Service) SendMessage(ctx context.Context, roomID id.RoomID, sender id.UserID, body string) (*timeline.Message, error) {
	sess, err := svc.pool.Acquire(ctx, sender, true)
	if err != nil {
		return nil, err
	}
	svc.ensureMembership(ctx, sess, roomID)

	eventID, err := sess.SendMessage(ctx, roomID, body)
	if err != nil {
		return nil, err
	}
	svc.markOwnRead(ctx, sess, roomID, eventID)
	return &timeline.Message{
		ID:              eventID,
		Body:            body,
		Sender:          sender,
		TimestampMillis: time.Now().UnixMilli(),
		Reactions:       []*timeline.Reaction{},
	}, nil
}

// SendMessageReply sends a message into the thread rooted at threadID.
func (svc *Service) SendMessageReply(ctx context.Context, roomID id.RoomID, sender id.UserID, threadID id.EventID, body string) (*timeline.Message, error) {
	sess, err := svc.pool.Acquire(ctx, sender, true)
	if err != nil {
		return nil, err
	}
	svc.ensureMembership(ctx, sess, roomID)

	eventID, err := sess.SendReply(ctx, roomID, threadID, body)
	if err != nil {
		return nil, err
	}
	svc.markOwnRead(ctx, sess, roomID, eventID)
	return &timeline.Message{
		ID:              eventID,
		Body:            body,
		Sender:          sender,
		TimestampMillis: time.Now().UnixMilli(),
		ThreadRoot:      threadID,
		Reactions:       []*timeline.Reaction{},
	}, nil
}

// AddReaction annotates a message with an emoji on behalf of the sender.
func (svc *Service) AddReaction(ctx context.Context, roomID id.RoomID, sender id.UserID, messageID id.EventID, emoji string) (*timeline.Reaction, error) {
	sess, err := svc.pool.Acquire(ctx, sender, true)
	if err != nil {
		return nil, err
	}
	eventID, err := sess.SendReaction(ctx, roomID, messageID, emoji)
	if err != nil {
		return nil, err
	}
	return &timeline.Reaction{
		ID:              eventID,
		TargetMessageID: messageID,
		Emoji:           emoji,
		Sender:          sender,
		TimestampMillis: time.Now().UnixMilli(),
	}, nil
}

// RemoveReaction redacts a previously sent reaction.
func (svc *Service) RemoveReaction(ctx context.Context, roomID id.RoomID, sender id.UserID, reactionID id.EventID) error {
	sess, err := svc.pool.Acquire(ctx, sender, true)
	if err != nil {
		return err
	}
	return sess.Redact(ctx, roomID, reactionID)
}

// DeleteMessage redacts a message and returns its id.
func (svc *Service) DeleteMessage(ctx context.Context, roomID id.RoomID, trigger id.UserID, messageID id.EventID) (id.EventID, error) {
	sess, err := svc.pool.Acquire(ctx, trigger, true)
	if err != nil {
		return "", err
	}
	if err := sess.Redact(ctx, roomID, messageID); err != nil {
		return "", err
	}
	return messageID, nil
}

// SendMessageToUser delivers a message into the direct room shared by
// sender and receiver, resolving or creating the room first. The receiver
// session is started so the invite to a fresh room is accepted.
func (svc *Service) SendMessageToUser(ctx context.Context, sender, receiver id.UserID, body string) (id.EventID, error) {
	if sender == receiver {
		return "", fmt.Errorf("%w: direct message to self", ErrNotSupported)
	}
	senderSess, err := svc.pool.Acquire(ctx, sender, true)
	if err != nil {
		return "", err
	}
	if _, err := svc.pool.Acquire(ctx, receiver, true); err != nil {
		return "", err
	}
	roomID, err := svc.direct.ResolveOrCreate(ctx, senderSess, receiver)
	if err != nil {
		return "", err
	}
	eventID, err := senderSess.SendMessage(ctx, roomID, body)
	if err != nil {
		return "", err
	}
	svc.markOwnRead(ctx, senderSess, roomID, eventID)
	return eventID, nil
}

// GetMessageSender resolves the sender of a message.
func (svc *Service) GetMessageSender(ctx context.Context, roomID id.RoomID, messageID id.EventID) (id.UserID, error) {
	sess, err := svc.elevated.Get(ctx)
	if err != nil {
		return "", err
	}
	messages, err := svc.converter.Messages(ctx, sess, roomID)
	if err != nil {
		return "", mapRoomError(roomID, err)
	}
	msg, found := lo.Find(messages, func(m *timeline.Message) bool { return m.ID == messageID })
	if !found {
		return "", fmt.Errorf("%w: message %s in %s", ErrEntityNotFound, messageID, roomID)
	}
	return msg.Sender, nil
}

// GetReactionSender resolves the sender of a reaction.
func (svc *Service) GetReactionSender(ctx context.Context, roomID id.RoomID, reactionID id.EventID) (id.UserID, error) {
	sess, err := svc.elevated.Get(ctx)
	if err != nil {
		return "", err
	}
	reactions, err := svc.converter.Reactions(ctx, sess, roomID)
	if err != nil {
		return "", mapRoomError(roomID, err)
	}
	reaction, found := lo.Find(reactions, func(r *timeline.Reaction) bool { return r.ID == reactionID })
	if !found {
		return "", fmt.Errorf("%w: reaction %s in %s", ErrEntityNotFound, reactionID, roomID)
	}
	return reaction.Sender, nil
}

// RegisterNewUser provisions a protocol account for the identity by
// acquiring (and thereby registering) a pooled session for it.
func (svc *Service) RegisterNewUser(ctx context.Context, identity id.UserID) error {
	if !svc.allowRegistration {
		return fmt.Errorf("%w: user registration", ErrNotEnabled)
	}
	_, err := svc.pool.Acquire(ctx, identity, false)
	return err
}

// markOwnRead advances the sender's read marker past their own message so
// the account's notification counters do not accumulate its own sends.
// Best-effort.
func (svc *Service) markOwnRead(ctx context.Context, sess *session.Session, roomID id.RoomID, eventID id.EventID) {
	if err := sess.MarkRead(ctx, roomID, eventID); err != nil {
		svc.logger.Debug("read receipt failed",
			"identity", sess.Identity().String(),
			"room", roomID.String(),
			"error", err)
	}
}

// ensureMembership joins the session to a room, logging failure instead
// of propagating it.
func (svc *Service) ensureMembership(ctx context.Context, sess *session.Session, roomID id.RoomID) {
	if err := sess.EnsureMembership(ctx, roomID); err != nil {
		svc.logger.Warn("membership not converged",
			"identity", sess.Identity().String(),
			"room", roomID.String(),
			"error", err)
	}
}
