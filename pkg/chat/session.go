// Package chat runs one websocket connection inside a room: it reads client
// envelopes, fans them out through the room registry and hands them to the
// persister.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomchat/pkg/identity"
	"roomchat/pkg/logging"
	"roomchat/pkg/metrics"
	"roomchat/pkg/persist"
	"roomchat/pkg/room"
)

// State is the lifecycle position of a session.
type State int32

const (
	Connecting State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Transport is the part of *websocket.Conn a session uses.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ Transport = (*websocket.Conn)(nil)

// Persister accepts messages for durable storage without blocking.
type Persister interface {
	Submit(job persist.Job) bool
}

// Config tunes one session. Zero values fall back to defaults.
type Config struct {
	SendBuffer int
	ReadLimit  int64
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	return c
}

// Session is one accepted connection bound to one room.
type Session struct {
	id        string
	tr        Transport
	ident     identity.Identity
	roomKey   string
	rooms     *room.Registry
	persister Persister
	cfg       Config
	log       zerolog.Logger

	state atomic.Int32

	sendMu     sync.Mutex
	send       chan room.Event
	sendClosed bool

	closeOnce sync.Once
}

func NewSession(tr Transport, ident identity.Identity, roomKey string, rooms *room.Registry, p Persister, cfg Config) *Session {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	return &Session{
		id:        id,
		tr:        tr,
		ident:     ident,
		roomKey:   roomKey,
		rooms:     rooms,
		persister: p,
		cfg:       cfg,
		send:      make(chan room.Event, cfg.SendBuffer),
		log: logging.Component("ws").With().
			Str("session_id", id).
			Str("room", roomKey).
			Str("user", ident.String()).
			Logger(),
	}
}

func (s *Session) ID() string                  { return s.id }
func (s *Session) Identity() identity.Identity { return s.ident }
func (s *Session) RoomKey() string             { return s.roomKey }
func (s *Session) State() State                { return State(s.state.Load()) }

// Run joins the room and pumps frames until the client leaves, ctx is done or
// the client sends a malformed envelope. The latter is reported as ErrDecode;
// transport errors count as a clean disconnect.
func (s *Session) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(Connecting), int32(Open)) {
		return errors.New("chat: session already started")
	}
	s.rooms.Join(s.roomKey, s)
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()
	s.log.Info().Msg("[ws] session open")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump()
	}()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-writerDone:
		}
	}()

	err := s.readPump()
	s.Close()
	<-writerDone

	if err != nil {
		s.log.Warn().Err(err).Msg("[ws] session terminated")
	} else {
		s.log.Info().Msg("[ws] session closed")
	}
	return err
}

// Deliver implements room.Member.
func (s *Session) Deliver(ev room.Event) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.sendClosed {
		return false
	}
	select {
	case s.send <- ev:
		return true
	default:
		return false
	}
}

// Evict implements room.Member.
func (s *Session) Evict() {
	s.log.Warn().Msg("[ws] evicted: send queue full")
	s.Close()
}

// Close leaves the room and stops the writer, which sends a close frame and
// closes the transport. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(Closed))
		s.rooms.Leave(s.roomKey, s)

		s.sendMu.Lock()
		s.sendClosed = true
		close(s.send)
		s.sendMu.Unlock()
	})
}

func (s *Session) readPump() error {
	s.tr.SetReadLimit(s.cfg.ReadLimit)
	_ = s.tr.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.tr.SetPongHandler(func(string) error {
		return s.tr.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, raw, err := s.tr.ReadMessage()
		if err != nil {
			if !isExpectedCloseError(err) && s.State() != Closed {
				s.log.Debug().Err(err).Msg("[ws] read failed")
			}
			return nil
		}

		in, err := DecodeInbound(raw)
		if err != nil {
			metrics.DecodeFailures.Inc()
			return err
		}
		metrics.MessagesReceived.Inc()
		s.handle(in)
	}
}

// handle broadcasts first, then queues the message for storage.
func (s *Session) handle(in InboundData) {
	s.rooms.Broadcast(s.roomKey, room.Event{
		Type: room.TypeChatMessage,
		Body: *in.Body,
		Name: *in.Name,
	})
	s.persister.Submit(persist.Job{
		ConversationID: *in.ConversationID,
		Body:           *in.Body,
		SentToID:       *in.SentToID,
		Sender:         s.ident,
	})
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		if err := s.tr.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Debug().Err(err).Msg("[ws] close transport")
		}
	}()

	for {
		select {
		case ev, ok := <-s.send:
			if !ok {
				s.writeClose()
				return
			}
			if !s.writeEvent(ev) || !s.flushQueued() {
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.tr.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.tr.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		}
	}
}

// flushQueued writes whatever else is already waiting, one frame per event.
func (s *Session) flushQueued() bool {
	for n := len(s.send); n > 0; n-- {
		ev, ok := <-s.send
		if !ok {
			return true
		}
		if !s.writeEvent(ev) {
			return false
		}
	}
	return true
}

func (s *Session) writeEvent(ev room.Event) bool {
	if ev.Type != room.TypeChatMessage {
		return true
	}
	frame, err := EncodeOutbound(Outbound{Body: ev.Body, Name: ev.Name})
	if err != nil {
		s.log.Error().Err(err).Msg("[ws] encode event")
		return true
	}
	_ = s.tr.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
	if err := s.tr.WriteMessage(websocket.TextMessage, frame); err != nil {
		if !isExpectedCloseError(err) {
			s.log.Debug().Err(err).Msg("[ws] write failed")
		}
		return false
	}
	return true
}

func (s *Session) writeClose() {
	_ = s.tr.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.tr.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		s.log.Debug().Err(err).Msg("[ws] write close frame")
	}
}

func isExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure)
}
