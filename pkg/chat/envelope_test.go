package chat

import (
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestDecodeInbound(t *testing.T) {
	raw := []byte(`{"data":{"conversation_id":"c1","sent_to_id":"u2","name":"Alice","body":"hello"}}`)
	in, err := DecodeInbound(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *in.ConversationID != "c1" || *in.SentToID != "u2" || *in.Name != "Alice" || *in.Body != "hello" {
		t.Fatalf("unexpected fields: %+v", in)
	}
}

func TestDecodeInboundAcceptsEmptyStrings(t *testing.T) {
	raw := []byte(`{"data":{"conversation_id":"c1","sent_to_id":"u2","name":"","body":""}}`)
	in, err := DecodeInbound(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *in.Body != "" || *in.Name != "" {
		t.Fatalf("expected empty body and name, got %+v", in)
	}
}

func TestDecodeInboundRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `hello`},
		{"no data", `{"body":"x"}`},
		{"data null", `{"data":null}`},
		{"missing body", `{"data":{"conversation_id":"c","sent_to_id":"u","name":"n"}}`},
		{"missing conversation", `{"data":{"sent_to_id":"u","name":"n","body":"b"}}`},
		{"missing recipient", `{"data":{"conversation_id":"c","name":"n","body":"b"}}`},
		{"missing name", `{"data":{"conversation_id":"c","sent_to_id":"u","body":"b"}}`},
		{"wrong type", `{"data":{"conversation_id":1,"sent_to_id":"u","name":"n","body":"b"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeInbound([]byte(tt.raw)); !errors.Is(err, ErrDecode) {
				t.Fatalf("expected ErrDecode, got %v", err)
			}
		})
	}
}

func TestEncodeOutbound(t *testing.T) {
	frame, err := EncodeOutbound(Outbound{Body: "hi", Name: "Alice"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(frame, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 2 || got["body"] != "hi" || got["name"] != "Alice" {
		t.Fatalf("unexpected frame %s", frame)
	}
}

func TestParseRoomKey(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"general", "general", false},
		{"conv%20one", "conv one", false},
		{"", "", true},
		{"   ", "", true},
		{"a%2Fb", "", true},
		{"%zz", "", true},
		{strings.Repeat("x", MaxRoomKeyLen+1), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseRoomKey(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrBadRoomKey) {
					t.Fatalf("expected ErrBadRoomKey, got %q, %v", got, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("expected %q, got %q, %v", tt.want, got, err)
			}
		})
	}
}
