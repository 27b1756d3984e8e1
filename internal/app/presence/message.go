package presence

import (
	"encoding/json"
	"fmt"

	"geomap/internal/app/user"
)

// EventType names an inbound or outbound WebSocket event.
type EventType string

// Inbound event types.
const (
	EventNewUser         EventType = "new_user"
	EventUserUpdated     EventType = "user_updated"
	EventSendMessage     EventType = "send_message"
	EventDeleteChat      EventType = "delete_chat"
	EventDeleteChatForMe EventType = "delete_chat_for_me"
)

// Outbound-only event types. new_user and user_updated are also sent outbound.
const (
	EventUserDisconnected EventType = "user_disconnected"
	EventNewMessage       EventType = "new_message"
	EventChatDeleted      EventType = "chat_deleted"
)

// EventUnknown labels inbound frames whose type is missing, unreadable or unsupported.
const EventUnknown EventType = "unknown"

// String returns the wire name of the event, truncated for logging.
func (t EventType) String() string {
	const maxLogged = 32
	if len(t) > maxLogged {
		return string(t[:maxLogged]) + "..."
	}
	return string(t)
}

// inbound reports whether t is an event clients may send.
func (t EventType) inbound() bool {
	switch t {
	case EventNewUser, EventUserUpdated, EventSendMessage, EventDeleteChat, EventDeleteChatForMe:
		return true
	}
	return false
}

// Envelope is the frame format in both directions.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// profilePayload is the body of new_user and user_updated.
type profilePayload struct {
	Username    string    `json:"username"`
	Avatar      *string   `json:"avatar"`
	Bio         *string   `json:"bio"`
	Age         any       `json:"age"`
	Interests   any       `json:"interests"`
	SocialLinks any       `json:"socialLinks"`
	Coordinates []float64 `json:"coordinates"`
}

// patch converts the payload to a user.Patch. Coordinates are validated when present
// and required when requireCoordinates is set.
func (p profilePayload) patch(requireCoordinates bool) (user.Patch, error) {
	out := user.Patch{
		Avatar:      p.Avatar,
		Bio:         p.Bio,
		Age:         p.Age,
		Interests:   p.Interests,
		SocialLinks: p.SocialLinks,
	}

	if p.Coordinates == nil {
		if requireCoordinates {
			return user.Patch{}, fmt.Errorf("%w: coordinates are required", ErrMalformedEvent)
		}
		return out, nil
	}

	point, err := user.ParseCoordinates(p.Coordinates)
	if err != nil {
		return user.Patch{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	out.Coordinates = &point

	return out, nil
}

// messagePayload is the body of send_message. It is relayed verbatim, so only the
// routing fields are decoded.
type messagePayload struct {
	From    string          `json:"from"`
	To      string          `json:"to"`
	Message json.RawMessage `json:"message"`
}

// chatPayload is the body of delete_chat and delete_chat_for_me.
type chatPayload struct {
	From string `json:"from"`
	With string `json:"with"`
}

// ChatDeleted is the body of an outbound chat_deleted event.
type ChatDeleted struct {
	With string `json:"with"`
}

func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing payload", ErrMalformedEvent)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// encode builds an outbound frame.
func encode(eventType EventType, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return json.Marshal(Envelope{Type: eventType, Payload: body})
}
