// ABOUTME: Timeline-to-domain conversion: pagination, classification,
// ABOUTME: reaction aggregation onto messages, sender resolution

package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samber/lo"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// ErrMissingSender is returned when a kept timeline event has no resolved
// sender. Callers surface it as an entity-not-found condition.
var ErrMissingSender = errors.New("timeline event has no sender")

// DefaultBatchSize bounds one backward pagination request.
const DefaultBatchSize = 1000

// Message is the domain view of one room message.
type Message struct {
	ID              id.EventID
	Body            string
	Sender          id.UserID
	TimestampMillis int64
	ThreadRoot      id.EventID // empty outside threads
	Reactions       []*Reaction
}

// Reaction is the domain view of one reaction annotation.
type Reaction struct {
	ID              id.EventID
	TargetMessageID id.EventID
	Emoji           string
	Sender          id.UserID
	TimestampMillis int64
}

// Paginator is the slice of the session used to read timelines.
type Paginator interface {
	Messages(ctx context.Context, roomID id.RoomID, from, to string, dir mautrix.Direction, filter *mautrix.FilterPart, limit int) (*mautrix.RespMessages, error)
}

// Converter turns raw timelines into Messages and Reactions.
type Converter struct {
	batchSize int
	logger    *slog.Logger
}

// NewConverter creates a converter. batchSize <= 0 selects the default.
func NewConverter(batchSize int, logger *slog.Logger) *Converter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{
		batchSize: batchSize,
		logger:    logger.With("component", "timeline"),
	}
}

// Messages reads the full timeline of a room and returns its messages in
// chronological order, each carrying exactly the reactions that target it.
func (c *Converter) Messages(ctx context.Context, p Paginator, roomID id.RoomID) ([]*Message, error) {
	messages, reactions, err := c.convert(ctx, p, roomID)
	if err != nil {
		return nil, err
	}
	byTarget := lo.GroupBy(reactions, func(r *Reaction) id.EventID {
		return r.TargetMessageID
	})
	for _, msg := range messages {
		msg.Reactions = byTarget[msg.ID]
		if msg.Reactions == nil {
			msg.Reactions = []*Reaction{}
		}
	}
	return messages, nil
}

// Reactions reads the full timeline of a room and returns every reaction,
// including those whose target message is no longer in the timeline.
func (c *Converter) Reactions(ctx context.Context, p Paginator, roomID id.RoomID) ([]*Reaction, error) {
	_, reactions, err := c.convert(ctx, p, roomID)
	if err != nil {
		return nil, err
	}
	return reactions, nil
}

// convert paginates the whole backward timeline and classifies every
// accumulated event. Returned slices are in chronological order.
func (c *Converter) convert(ctx context.Context, p Paginator, roomID id.RoomID) ([]*Message, []*Reaction, error) {
	var accumulated []*event.Event
	from := "" // anchor at the live end of the timeline
	for {
		resp, err := p.Messages(ctx, roomID, from, "", mautrix.DirectionBackward, nil, c.batchSize)
		if err != nil {
			return nil, nil, fmt.Errorf("paginating %s: %w", roomID, err)
		}
		accumulated = append(accumulated, resp.Chunk...)
		if resp.End == "" || len(resp.Chunk) == 0 {
			break
		}
		from = resp.End
	}
	// Backward pagination yields newest first.
	lo.Reverse(accumulated)

	var messages []*Message
	var reactions []*Reaction
	for _, evt := range accumulated {
		switch evt.Type {
		case event.EventMessage:
			msg, ok, err := classifyMessage(evt)
			if err != nil {
				return nil, nil, err
			}
			if ok {
				messages = append(messages, msg)
			}
		case event.EventReaction:
			reaction, ok, err := classifyReaction(evt)
			if err != nil {
				return nil, nil, err
			}
			if ok {
				reactions = append(reactions, reaction)
			}
		}
	}
	c.logger.Debug("timeline converted",
		"room", roomID.String(),
		"events", len(accumulated),
		"messages", len(messages),
		"reactions", len(reactions))
	return messages, reactions, nil
}

// classifyMessage keeps room-message events that carry a body.
func classifyMessage(evt *event.Event) (*Message, bool, error) {
	if !hasContent(evt) {
		return nil, false, nil
	}
	content := evt.Content.AsMessage()
	if content.Body == "" {
		return nil, false, nil
	}
	if evt.Sender == "" {
		return nil, false, fmt.Errorf("%w: message %s", ErrMissingSender, evt.ID)
	}
	msg := &Message{
		ID:              evt.ID,
		Body:            content.Body,
		Sender:          evt.Sender,
		TimestampMillis: evt.Timestamp,
	}
	if rel := content.RelatesTo; rel != nil && rel.Type == event.RelThread {
		msg.ThreadRoot = rel.EventID
	}
	return msg, true, nil
}

// classifyReaction keeps reaction events that carry an annotation target.
func classifyReaction(evt *event.Event) (*Reaction, bool, error) {
	if !hasContent(evt) {
		return nil, false, nil
	}
	content := evt.Content.AsReaction()
	if content.RelatesTo.EventID == "" {
		return nil, false, nil
	}
	if evt.Sender == "" {
		return nil, false, fmt.Errorf("%w: reaction %s", ErrMissingSender, evt.ID)
	}
	return &Reaction{
		ID:              evt.ID,
		TargetMessageID: content.RelatesTo.EventID,
		Emoji:           content.RelatesTo.Key,
		Sender:          evt.Sender,
		TimestampMillis: evt.Timestamp,
	}, true, nil
}

// hasContent parses the raw content in place and reports whether the
// event carries any. Redacted events come back empty and are dropped here.
func hasContent(evt *event.Event) bool {
	if evt.Content.Parsed == nil {
		if len(evt.Content.Raw) == 0 {
			return false
		}
		// Parse errors leave Parsed nil; the typed accessors then return
		// empty content and the event is dropped by the body checks.
		_ = evt.Content.ParseRaw(evt.Type)
	}
	return evt.Content.Parsed != nil || len(evt.Content.Raw) > 0
}
