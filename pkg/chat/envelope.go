package chat

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// MaxRoomKeyLen bounds the room name taken from the URL.
const MaxRoomKeyLen = 128

var (
	ErrDecode     = errors.New("chat: malformed envelope")
	ErrBadRoomKey = errors.New("chat: invalid room name")
)

var validate = validator.New()

// Inbound is the frame a client sends:
//
//	{"data": {"conversation_id": "...", "sent_to_id": "...", "name": "...", "body": "..."}}
//
// All four fields must be present. Empty strings are allowed.
type Inbound struct {
	Data *InboundData `json:"data" validate:"required"`
}

type InboundData struct {
	ConversationID *string `json:"conversation_id" validate:"required"`
	SentToID       *string `json:"sent_to_id" validate:"required"`
	Name           *string `json:"name" validate:"required"`
	Body           *string `json:"body" validate:"required"`
}

// Outbound is the frame written for a chat_message event.
type Outbound struct {
	Body string `json:"body"`
	Name string `json:"name"`
}

// DecodeInbound parses and validates one client frame.
func DecodeInbound(raw []byte) (InboundData, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return InboundData{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := validate.Struct(in); err != nil {
		return InboundData{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return *in.Data, nil
}

func EncodeOutbound(out Outbound) ([]byte, error) {
	return json.Marshal(out)
}

// ParseRoomKey turns the path segment into a room key.
func ParseRoomKey(raw string) (string, error) {
	key, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadRoomKey, err)
	}
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return "", fmt.Errorf("%w: empty", ErrBadRoomKey)
	case len(key) > MaxRoomKeyLen:
		return "", fmt.Errorf("%w: longer than %d bytes", ErrBadRoomKey, MaxRoomKeyLen)
	case strings.Contains(key, "/"):
		return "", fmt.Errorf("%w: contains '/'", ErrBadRoomKey)
	}
	return key, nil
}
