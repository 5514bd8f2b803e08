package realtime

import "encoding/json"

// EventType names a server-to-client event.
type EventType string

const (
	EventMessageReceived       EventType = "messageReceived"
	EventMessageUpdated        EventType = "messageUpdated"
	EventMessageDeleted        EventType = "messageDeleted"
	EventMessagePinned         EventType = "messagePinned"
	EventMessageUnpinned       EventType = "messageUnpinned"
	EventMessageReviewed       EventType = "messageReviewed"
	EventUnreadMessage         EventType = "unreadMessage"
	EventUserTyping            EventType = "userTyping"
	EventMemberJoined          EventType = "memberJoined"
	EventMemberLeft            EventType = "memberLeft"
	EventMemberRoleChanged     EventType = "memberRoleChanged"
	EventConversationDissolved EventType = "conversationDissolved"
	EventConversationUpdated   EventType = "conversationUpdated"
	EventNotificationReceived  EventType = "notificationReceived"
	EventError                 EventType = "error"
	EventPong                  EventType = "pong"
)

// Event is routed to every subscriber of ConversationID and to every
// connection of the users listed in Recipients. ExcludeUserID suppresses
// delivery to one user, typically the actor. A non-empty RestrictTo drops every
// group subscriber not listed in it before delivery. After delivery the users
// in Unsubscribe are removed from the conversation group; CloseGroup empties it.
type Event struct {
	Type           EventType   `json:"type"`
	ConversationID string      `json:"conversationId,omitempty"`
	Recipients     []string    `json:"recipients,omitempty"`
	ExcludeUserID  string      `json:"excludeUserId,omitempty"`
	RestrictTo     []string    `json:"restrictTo,omitempty"`
	Unsubscribe    []string    `json:"unsubscribe,omitempty"`
	CloseGroup     bool        `json:"closeGroup,omitempty"`
	Payload        interface{} `json:"payload,omitempty"`
}

// frame is what a client receives on the wire.
type frame struct {
	Type           EventType   `json:"type"`
	ConversationID string      `json:"conversationId,omitempty"`
	Payload        interface{} `json:"payload,omitempty"`
}

func encodeFrame(ev Event) ([]byte, error) {
	return json.Marshal(frame{Type: ev.Type, ConversationID: ev.ConversationID, Payload: ev.Payload})
}

// Client-to-server message types.
const (
	inboundJoin   = "joinConversation"
	inboundLeave  = "leaveConversation"
	inboundTyping = "typing"
	inboundPing   = "ping"
)

// TypingPayload is broadcast with EventUserTyping.
type TypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// ErrorPayload is sent with EventError.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
