// ABOUTME: JSON request/response types and handlers for the adapter API
// ABOUTME: Translates platform emails to protocol identities per request

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/samber/lo"
	"maunium.net/go/mautrix/id"

	"github.com/alkem-io/matrix-adapter/internal/adapter"
	"github.com/alkem-io/matrix-adapter/internal/session"
	"github.com/alkem-io/matrix-adapter/internal/timeline"
)

// SendMessageRequest is the JSON request body for POST /api/messages.
type SendMessageRequest struct {
	RoomID      string `json:"room_id"`
	SenderEmail string `json:"sender_email"`
	Message     string `json:"message"`
}

// ReplyRequest is the JSON request body for POST /api/messages/reply.
type ReplyRequest struct {
	RoomID      string `json:"room_id"`
	SenderEmail string `json:"sender_email"`
	ThreadID    string `json:"thread_id"`
	Message     string `json:"message"`
}

// DeleteMessageRequest is the JSON request body for DELETE /api/messages.
type DeleteMessageRequest struct {
	RoomID         string `json:"room_id"`
	TriggeredEmail string `json:"triggered_by_email"`
	MessageID      string `json:"message_id"`
}

// ReactionRequest is the JSON request body for POST /api/reactions.
type ReactionRequest struct {
	RoomID      string `json:"room_id"`
	SenderEmail string `json:"sender_email"`
	MessageID   string `json:"message_id"`
	Emoji       string `json:"emoji"`
}

// RemoveReactionRequest is the JSON request body for DELETE /api/reactions.
type RemoveReactionRequest struct {
	RoomID      string `json:"room_id"`
	SenderEmail string `json:"sender_email"`
	ReactionID  string `json:"reaction_id"`
}

// DirectMessageRequest is the JSON request body for POST /api/direct.
type DirectMessageRequest struct {
	SenderEmail   string `json:"sender_email"`
	ReceiverEmail string `json:"receiver_email"`
	Message       string `json:"message"`
}

// CreateRoomRequest is the JSON request body for POST /api/rooms.
type CreateRoomRequest struct {
	Name  string `json:"name"`
	Topic string `json:"topic,omitempty"`
}

// RoomStateRequest is the JSON request body for PATCH /api/rooms/{id}/state.
type RoomStateRequest struct {
	HistoryVisible *bool `json:"history_visible,omitempty"`
	AllowJoining   *bool `json:"allow_joining,omitempty"`
}

// MembershipRequest is the JSON request body for POST and DELETE
// /api/memberships.
type MembershipRequest struct {
	UserEmail string   `json:"user_email"`
	RoomIDs   []string `json:"room_ids"`
}

// ReplicateRequest is the JSON request body for POST /api/replicate.
type ReplicateRequest struct {
	SourceRoomID      string `json:"source_room_id"`
	TargetRoomID      string `json:"target_room_id"`
	PriorityUserEmail string `json:"priority_user_email,omitempty"`
}

// RegisterUserRequest is the JSON request body for POST /api/users.
type RegisterUserRequest struct {
	Email string `json:"email"`
}

// MessageResponse is the JSON view of a timeline message.
type MessageResponse struct {
	ID          string             `json:"id"`
	Message     string             `json:"message"`
	Sender      string             `json:"sender"`
	SenderEmail string             `json:"sender_email,omitempty"`
	Timestamp   int64              `json:"timestamp"`
	ThreadID    string             `json:"thread_id,omitempty"`
	Reactions   []ReactionResponse `json:"reactions"`
}

// ReactionResponse is the JSON view of a timeline reaction.
type ReactionResponse struct {
	ID          string `json:"id"`
	MessageID   string `json:"message_id"`
	Emoji       string `json:"emoji"`
	Sender      string `json:"sender"`
	SenderEmail string `json:"sender_email,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// RoomResponse is the JSON view of a room.
type RoomResponse struct {
	ID                string   `json:"id"`
	Name              string   `json:"name,omitempty"`
	Members           []string `json:"members,omitempty"`
	JoinRule          string   `json:"join_rule,omitempty"`
	HistoryVisibility string   `json:"history_visibility,omitempty"`
}

// SenderResponse is the JSON response for sender lookups.
type SenderResponse struct {
	Sender      string `json:"sender"`
	SenderEmail string `json:"sender_email,omitempty"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.sendMessage(w, r)
	case http.MethodDelete:
		s.deleteMessage(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeBody(r.Body, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RoomID == "" || req.Message == "" {
		sendJSONError(w, http.StatusBadRequest, "room_id and message are required")
		return
	}
	sender, err := s.identity(req.SenderEmail)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	msg, err := s.svc.SendMessage(r.Context(), id.RoomID(req.RoomID), sender, req.Message)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, messageResponse(msg))
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	var req DeleteMessageRequest
	if err := decodeBody(r.Body, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	trigger, err := s.identity(req.TriggeredEmail)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	deleted, err := s.svc.DeleteMessage(r.Context(), id.RoomID(req.RoomID), trigger, id.EventID(req.MessageID))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"message_id": deleted.String()})
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req ReplyRequest
	if err := decodeBody(r.Body, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ThreadID == "" {
		sendJSONError(w, http.StatusBadRequest, "thread_id is required")
		return
	}
	sender, err := s.identity(req.SenderEmail)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	msg, err := s.svc.SendMessageReply(r.Context(), id.RoomID(req.RoomID), sender, id.EventID(req.ThreadID), req.Message)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, messageResponse(msg))
}

func (s *Server) handleMessageSender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	roomID := r.URL.Query().Get("room_id")
	messageID := r.URL.Query().Get("message_id")
	if roomID == "" || messageID == "" {
		sendJSONError(w, http.StatusBadRequest, "room_id and message_id are required")
		return
	}
	sender, err := s.svc.GetMessageSender(r.Context(), id.RoomID(roomID), id.EventID(messageID))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, senderResponse(sender))
}

func (s *Server) handleReactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.addReaction(w, r)
	case http.MethodDelete:
		s.removeReaction(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) addReaction(w http.ResponseWriter, r *http.Request) {
	var req ReactionRequest
	if err := decodeBody(r.Body, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Emoji == "" {
		sendJSONError(w, http.StatusBadRequest, "emoji is required")
		return
	}
	sender, err := s.identity(req.SenderEmail)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	reaction, err := s.svc.AddReaction(r.Context(), id.RoomID(req.RoomID), sender, id.EventID(req.MessageID), req.Emoji)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, reactionResponse(reaction))
}

func (s *Server) removeReaction(w http.ResponseWriter, r *http.Request) {
	var req RemoveReactionRequest
	if err := decodeBody(r.Body, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	sender, err := s.identity(req.SenderEmail)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.svc.RemoveReaction(r.Context(), id.RoomID(req.RoomID), sender, id.EventID(req.ReactionID)); err != nil {
		s.sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"reaction_id": req.ReactionID})
}

func (s *Server) handleReactionSender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	roomID := r.URL.Query().Get("room_id")
	reactionID := r.URL.Query().Get("reaction_id")
	if roomID == "" || reactionID == "" {
		sendJSONError(w, http.StatusBadRequest, "room_id and reaction_id are required")
		return
	}
	sender, err := s.svc.GetReactionSender(r.Context(), id.RoomID(roomID), id.EventID(reactionID))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, senderResponse(sender))
}

func (s *Server) handleDirect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req DirectMessageRequest
	if err := decodeBody(r.Body, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	sender, err := s.identity(req.SenderEmail)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	receiver, err := s.identity(req.ReceiverEmail)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	eventID, err := s.svc.SendMessageToUser(r.Context(), sender, receiver, req.Message)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, map[string]string{"message_id": eventID.String()})
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rooms, err := s.svc.GetAllRooms(r.Context())
		if err != nil {
			s.sendError(w, r, err)
			return
		}
		sendJSON(w, http.StatusOK, lo.Map(rooms, func(room *adapter.Room, _ int) RoomResponse {
			return roomResponse(room)
		}))
	case http.MethodPost:
		var req CreateRoomRequest
		if err := decodeBody(r.Body, &req); err != nil {
			sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Name == "" {
			sendJSONError(w, http.StatusBadRequest, "name is required")
			return
		}
		roomID, err := s.svc.CreateRoom(r.Context(), adapter.CreateRoomOptions{Name: req.Name, Topic: req.Topic})
		if err != nil {
			s.sendError(w, r, err)
			return
		}
		sendJSON(w, http.StatusCreated, map[string]string{"room_id": roomID.String()})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleRoomRoutes dispatches /api/rooms/{id} and its subresources.
func (s *Server) handleRoomRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		sendJSONError(w, http.StatusBadRequest, "room id is required")
		return
	}
	roomID := id.RoomID(parts[0])

	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}
	switch sub {
	case "":
		s.roomDetails(w, r, roomID)
	case "members":
		s.roomMembers(w, r, roomID)
	case "timeline":
		s.roomTimeline(w, r, roomID)
	case "state":
		s.roomState(w, r, roomID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) roomDetails(w http.ResponseWriter, r *http.Request, roomID id.RoomID) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	withState := r.URL.Query().Get("state") == "true"
	room, err := s.svc.GetRoomDetails(r.Context(), roomID, withState)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, roomResponse(room))
}

func (s *Server) roomMembers(w http.ResponseWriter, r *http.Request, roomID id.RoomID) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	members, err := s.svc.GetRoomMembers(r.Context(), roomID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, lo.Map(members, func(member id.UserID, _ int) SenderResponse {
		return senderResponse(member)
	}))
}

func (s *Server) roomTimeline(w http.ResponseWriter, r *http.Request, roomID id.RoomID) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	messages, err := s.svc.GetRoomTimeline(r.Context(), roomID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, lo.Map(messages, func(msg *timeline.Message, _ int) MessageResponse {
		return messageResponse(msg)
	}))
}

func (s *Server) roomState(w http.ResponseWriter, r *http.Request, roomID id.RoomID) {
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req RoomStateRequest
	if err := decodeBody(r.Body, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	room, err := s.svc.UpdateRoomState(r.Context(), roomID, req.HistoryVisible, req.AllowJoining)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, roomResponse(room))
}

func (s *Server) handleMemberships(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req MembershipRequest
	if err := decodeBody(r.Body, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.RoomIDs) == 0 {
		sendJSONError(w, http.StatusBadRequest, "room_ids is required")
		return
	}
	user, err := s.identity(req.UserEmail)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	roomIDs := lo.Map(req.RoomIDs, func(raw string, _ int) id.RoomID { return id.RoomID(raw) })

	if r.Method == http.MethodPost {
		err = s.svc.AddUserToRooms(r.Context(), roomIDs, user)
	} else {
		err = s.svc.RemoveUserFromRooms(r.Context(), roomIDs, user)
	}
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"user": user.String()})
}

func (s *Server) handleReplicate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req ReplicateRequest
	if err := decodeBody(r.Body, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SourceRoomID == "" || req.TargetRoomID == "" {
		sendJSONError(w, http.StatusBadRequest, "source_room_id and target_room_id are required")
		return
	}
	var priority id.UserID
	if req.PriorityUserEmail != "" {
		var err error
		priority, err = s.identity(req.PriorityUserEmail)
		if err != nil {
			sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	err := s.svc.ReplicateMembership(r.Context(), id.RoomID(req.SourceRoomID), id.RoomID(req.TargetRoomID), priority)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusAccepted, map[string]string{"target_room_id": req.TargetRoomID})
}

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req RegisterUserRequest
	if err := decodeBody(r.Body, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	identity, err := s.identity(req.Email)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.svc.RegisterNewUser(r.Context(), identity); err != nil {
		s.sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, map[string]string{"identity": identity.String()})
}

// identity maps a platform email onto a protocol identity.
func (s *Server) identity(email string) (id.UserID, error) {
	return session.IdentityFromEmail(email, s.serverName)
}

// decodeBody decodes a JSON request body, flattening decode failures into
// one caller-facing message.
func decodeBody(r io.Reader, into interface{}) error {
	if err := json.NewDecoder(r).Decode(into); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func messageResponse(msg *timeline.Message) MessageResponse {
	return MessageResponse{
		ID:          msg.ID.String(),
		Message:     msg.Body,
		Sender:      msg.Sender.String(),
		SenderEmail: emailOf(msg.Sender),
		Timestamp:   msg.TimestampMillis,
		ThreadID:    msg.ThreadRoot.String(),
		Reactions: lo.Map(msg.Reactions, func(reaction *timeline.Reaction, _ int) ReactionResponse {
			return reactionResponse(reaction)
		}),
	}
}

func reactionResponse(reaction *timeline.Reaction) ReactionResponse {
	return ReactionResponse{
		ID:          reaction.ID.String(),
		MessageID:   reaction.TargetMessageID.String(),
		Emoji:       reaction.Emoji,
		Sender:      reaction.Sender.String(),
		SenderEmail: emailOf(reaction.Sender),
		Timestamp:   reaction.TimestampMillis,
	}
}

func roomResponse(room *adapter.Room) RoomResponse {
	return RoomResponse{
		ID:   room.ID.String(),
		Name: room.Name,
		Members: lo.Map(room.Members, func(member id.UserID, _ int) string {
			return member.String()
		}),
		JoinRule:          room.JoinRule,
		HistoryVisibility: room.HistoryVisibility,
	}
}

func senderResponse(identity id.UserID) SenderResponse {
	return SenderResponse{
		Sender:      identity.String(),
		SenderEmail: emailOf(identity),
	}
}

// emailOf reverses the identity mapping, degrading to empty for
// identities that never came from an email.
func emailOf(identity id.UserID) string {
	email, err := session.EmailFromIdentity(identity)
	if err != nil {
		return ""
	}
	return email
}
