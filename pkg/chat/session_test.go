package chat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"roomchat/models"
	"roomchat/pkg/database"
	"roomchat/pkg/identity"
	"roomchat/pkg/persist"
	"roomchat/pkg/room"
)

type recordingPersister struct {
	mu   sync.Mutex
	jobs []persist.Job
}

func (r *recordingPersister) Submit(job persist.Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return true
}

func (r *recordingPersister) Jobs() []persist.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]persist.Job(nil), r.jobs...)
}

// chatServer upgrades every request into a session in room "lobby". The
// identity comes from the ?user= and ?name= query parameters.
type chatServer struct {
	*httptest.Server
	rooms   *room.Registry
	results chan error
}

func newChatServer(t *testing.T, p Persister) *chatServer {
	t.Helper()
	cs := &chatServer{rooms: room.NewRegistry(), results: make(chan error, 16)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ident := identity.Verified(r.URL.Query().Get("user"), r.URL.Query().Get("name"))
		s := NewSession(conn, ident, "lobby", cs.rooms, p, Config{})
		cs.results <- s.Run(context.Background())
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *chatServer) dial(t *testing.T, user, name string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(cs.URL, "http") + "/?user=" + user + "&name=" + name
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (cs *chatServer) waitMembers(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := 0
		if r := cs.rooms.Room("lobby"); r != nil {
			got = r.Len()
		}
		if got == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d members in lobby, have %d", n, got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func send(t *testing.T, conn *websocket.Conn, conversationID, sentTo, name, body string) {
	t.Helper()
	frame, err := json.Marshal(map[string]any{"data": map[string]string{
		"conversation_id": conversationID,
		"sent_to_id":      sentTo,
		"name":            name,
		"body":            body,
	}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func receive(t *testing.T, conn *websocket.Conn) Outbound {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out Outbound
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return out
}

func TestTwoSessionsShareRoomAndPersist(t *testing.T) {
	db := database.OpenTest(t)
	alice := models.User{Email: "alice@example.com", Name: "Alice", PasswordHash: "x"}
	bob := models.User{Email: "bob@example.com", Name: "Bob", PasswordHash: "x"}
	for _, u := range []*models.User{&alice, &bob} {
		if err := db.Create(u).Error; err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	conv := models.Conversation{Users: []models.User{alice, bob}}
	if err := db.Omit("Users.*").Create(&conv).Error; err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	saved := make(chan persist.Result, 4)
	p := persist.New(persist.GormStore{DB: db}, persist.Options{Observer: func(r persist.Result) { saved <- r }})
	ctx, cancel := context.WithCancel(context.Background())
	persisterDone := make(chan struct{})
	go func() {
		defer close(persisterDone)
		_ = p.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-persisterDone
	})

	cs := newChatServer(t, p)
	a := cs.dial(t, alice.ID, "Alice")
	b := cs.dial(t, bob.ID, "Bob")
	cs.waitMembers(t, 2)

	send(t, a, conv.ID, bob.ID, "Alice", "hi")

	for _, conn := range []*websocket.Conn{a, b} {
		got := receive(t, conn)
		if got.Body != "hi" || got.Name != "Alice" {
			t.Fatalf("unexpected frame %+v", got)
		}
	}

	select {
	case r := <-saved:
		if r.Err != nil {
			t.Fatalf("persist failed: %v", r.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("message was never persisted")
	}
	var msgs []models.Message
	db.Where("conversation_id = ?", conv.ID).Find(&msgs)
	if len(msgs) != 1 || msgs[0].Body != "hi" || msgs[0].CreatedByID != alice.ID || msgs[0].SentToID != bob.ID {
		t.Fatalf("unexpected stored messages: %+v", msgs)
	}
}

func TestMalformedEnvelopeClosesOnlySender(t *testing.T) {
	p := &recordingPersister{}
	cs := newChatServer(t, p)
	a := cs.dial(t, "u1", "A")
	b := cs.dial(t, "u2", "B")
	cs.waitMembers(t, 2)

	if err := a.WriteMessage(websocket.TextMessage, []byte(`{"data":{"body":"no ids"}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = a.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := a.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close for sender, got %v", err)
	}
	select {
	case err := <-cs.results:
		if !errors.Is(err, ErrDecode) {
			t.Fatalf("expected ErrDecode from Run, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not end")
	}
	cs.waitMembers(t, 1)

	send(t, b, "c1", "u1", "B", "still here")
	if got := receive(t, b); got.Body != "still here" {
		t.Fatalf("unexpected frame %+v", got)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(p.Jobs()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if jobs := p.Jobs(); len(jobs) != 1 || jobs[0].Body != "still here" {
		t.Fatalf("expected only the valid message to be submitted, got %+v", jobs)
	}
}

func TestBroadcastOrderIsSharedAcrossMembers(t *testing.T) {
	cs := newChatServer(t, &recordingPersister{})
	a := cs.dial(t, "u1", "A")
	b := cs.dial(t, "u2", "B")
	cs.waitMembers(t, 2)

	const n = 20
	var wg sync.WaitGroup
	for _, c := range []struct {
		conn *websocket.Conn
		name string
	}{{a, "A"}, {b, "B"}} {
		wg.Add(1)
		go func(conn *websocket.Conn, name string) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				frame := `{"data":{"conversation_id":"c","sent_to_id":"x","name":"` + name + `","body":"` + name + string(rune('a'+i)) + `"}}`
				if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
					t.Errorf("write: %v", err)
					return
				}
			}
		}(c.conn, c.name)
	}
	wg.Wait()

	var seqA, seqB []string
	for i := 0; i < 2*n; i++ {
		seqA = append(seqA, receive(t, a).Body)
		seqB = append(seqB, receive(t, b).Body)
	}
	for i := range seqA {
		if seqA[i] != seqB[i] {
			t.Fatalf("members disagree at %d: %q vs %q", i, seqA[i], seqB[i])
		}
	}
}

type failingStore struct{}

func (failingStore) CreateMessage(context.Context, *models.Message) error {
	return errors.New("database unreachable")
}

func TestDeliveryContinuesWhenStorageFails(t *testing.T) {
	results := make(chan persist.Result, 8)
	p := persist.New(failingStore{}, persist.Options{
		Workers:          1,
		FailureThreshold: 1,
		OpenTimeout:      time.Minute,
		Observer:         func(r persist.Result) { results <- r },
	})
	ctx, cancel := context.WithCancel(context.Background())
	persisterDone := make(chan struct{})
	go func() {
		defer close(persisterDone)
		_ = p.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-persisterDone
	})

	cs := newChatServer(t, p)
	a := cs.dial(t, "u1", "A")
	b := cs.dial(t, "u2", "B")
	cs.waitMembers(t, 2)

	bodies := []string{"first", "second", "third"}
	for _, body := range bodies {
		send(t, a, "c1", "u2", "A", body)
	}
	for _, conn := range []*websocket.Conn{a, b} {
		for _, want := range bodies {
			if got := receive(t, conn); got.Body != want {
				t.Fatalf("expected %q, got %+v", want, got)
			}
		}
	}

	for range bodies {
		select {
		case r := <-results:
			if r.Err == nil {
				t.Fatalf("expected storage failure for %q", r.Job.Body)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("persister never reported a result")
		}
	}
	if r := cs.rooms.Room("lobby"); r == nil || r.Len() != 2 {
		t.Fatalf("expected both sessions to stay in the room")
	}
}

// pipeTransport is an in-memory Transport whose reads block until Close.
type pipeTransport struct {
	mu     sync.Mutex
	writes []int
	closed chan struct{}
	once   sync.Once
}

func newPipeTransport() *pipeTransport { return &pipeTransport{closed: make(chan struct{})} }

func (p *pipeTransport) ReadMessage() (int, []byte, error) {
	<-p.closed
	return 0, nil, net.ErrClosed
}

func (p *pipeTransport) WriteMessage(mt int, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, mt)
	return nil
}

func (p *pipeTransport) SetReadLimit(int64)                {}
func (p *pipeTransport) SetReadDeadline(time.Time) error   { return nil }
func (p *pipeTransport) SetWriteDeadline(time.Time) error  { return nil }
func (p *pipeTransport) SetPongHandler(func(string) error) {}

func (p *pipeTransport) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeTransport) Writes() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.writes...)
}

func TestSessionLifecycle(t *testing.T) {
	rooms := room.NewRegistry()
	tr := newPipeTransport()
	s := NewSession(tr, identity.Verified("u1", "A"), "lobby", rooms, &recordingPersister{}, Config{})
	if s.State() != Connecting {
		t.Fatalf("expected connecting, got %v", s.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.State() != Open {
		if time.Now().After(deadline) {
			t.Fatalf("session never opened")
		}
		time.Sleep(time.Millisecond)
	}
	if rooms.Broadcast("lobby", room.Event{Type: room.TypeChatMessage, Body: "x"}) != 1 {
		t.Fatalf("expected session to be a room member")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}

	if s.State() != Closed {
		t.Fatalf("expected closed, got %v", s.State())
	}
	if rooms.Room("lobby") != nil {
		t.Fatalf("expected room to be destroyed")
	}
	if s.Deliver(room.Event{Type: room.TypeChatMessage}) {
		t.Fatalf("closed session accepted an event")
	}
	writes := tr.Writes()
	if len(writes) != 2 || writes[0] != websocket.TextMessage || writes[1] != websocket.CloseMessage {
		t.Fatalf("expected queued frame then close frame, got %v", writes)
	}
	s.Close()
}
