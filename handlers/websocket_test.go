package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"estatehub/billing"
	"estatehub/chat"
	"estatehub/database"
	"estatehub/locks"
	"estatehub/middleware"
	"estatehub/models"
	"estatehub/notify"
)

type server struct {
	url   string
	hub   *Hub
	store database.Store
	jwt   *middleware.JWT
}

func newServer(t *testing.T) *server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	store, err := database.OpenSQLite(context.Background(), "file:"+name+"?mode=memory&cache=shared", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })

	hub := NewHub(nil, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	validate := validator.New()
	notifier := notify.NewLogNotifier(logger)
	engine := chat.NewEngine(store, hub, notifier, validate, logger)
	reconciler := billing.NewReconciler(store, nil, locks.NewLocalLocker(), notifier, validate, logger)
	jwt := middleware.NewJWT("test-secret")

	srv := httptest.NewServer(NewRouter(Routes{
		Auth:      jwt,
		WebSocket: NewWebSocketHandler(hub, engine, []string{"*"}, 5*time.Second, logger),
		Groups:    NewGroupHandler(engine, logger),
		Messages:  NewMessageHandler(engine, logger),
		Checkout:  NewCheckoutHandler(reconciler, logger),
		Webhook:   NewWebhookHandler(fakeParser{}, &fakeEvents{}, time.Second, logger),
		Origins:   []string{"*"},
		Logger:    logger,

		StoreTimeout:    2 * time.Second,
		CheckoutTimeout: 2 * time.Second,
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &server{url: srv.URL, hub: hub, store: store, jwt: jwt}
}

func (s *server) user(t *testing.T, name string) (*models.User, string) {
	t.Helper()
	u := &models.User{ID: uuid.NewString(), Name: name}
	if err := s.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := s.jwt.Sign(u.ID, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return u, token
}

func (s *server) dial(t *testing.T, userID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.url, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for !s.hub.IsUserOnline(userID) {
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ models.EventType, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := conn.WriteJSON(models.WebSocketMessage{Type: typ, Payload: raw}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func await(t *testing.T, conn *websocket.Conn, typ models.EventType) models.WebSocketMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg models.WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if msg.Type == typ {
			return msg
		}
	}
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	s := newServer(t)
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.url, "http")+"/ws", nil)
	if err == nil {
		t.Fatal("dial without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %v, want 401", resp)
	}
}

func TestWebSocketDirectMessageRoundTrip(t *testing.T) {
	s := newServer(t)
	alice, aliceToken := s.user(t, "alice")
	bob, bobToken := s.user(t, "bob")

	bobConn := s.dial(t, bob.ID, bobToken)
	aliceConn := s.dial(t, alice.ID, aliceToken)

	send(t, aliceConn, models.EventSendMessage, models.SendMessagePayload{ReceiverID: bob.ID, Content: "is the flat available?"})

	got := await(t, bobConn, models.EventReceiveMessage)
	var view models.MessageView
	if err := json.Unmarshal(got.Payload, &view); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if view.Content != "is the flat available?" || view.SenderID != alice.ID {
		t.Errorf("bob received %+v", view)
	}
	if view.Sender == nil || view.Sender.Name != "alice" {
		t.Errorf("sender was not expanded: %+v", view.Sender)
	}

	// The sender's own sessions see the persisted message too.
	await(t, aliceConn, models.EventReceiveMessage)

	send(t, bobConn, models.EventGetUnseenCount, nil)
	counts := await(t, bobConn, models.EventUnseenCount)
	var unseen models.UnseenCounts
	if err := json.Unmarshal(counts.Payload, &unseen); err != nil {
		t.Fatalf("unmarshal counts: %v", err)
	}
	if len(unseen.Direct) != 1 || unseen.Direct[0].Count != 1 {
		t.Errorf("unseen = %+v, want one message from alice", unseen)
	}

	send(t, bobConn, models.EventMarkMessagesAsSeen, models.MarkSeenPayload{ChatPartnerID: alice.ID})
	await(t, bobConn, models.EventMessagesMarkedSeen)
	receipt := await(t, aliceConn, models.EventMessagesSeen)
	var seen models.SeenReceipt
	if err := json.Unmarshal(receipt.Payload, &seen); err != nil {
		t.Fatalf("unmarshal receipt: %v", err)
	}
	if seen.ReaderID != bob.ID || seen.Count != 1 {
		t.Errorf("receipt = %+v", seen)
	}
}

func TestWebSocketErrorsGoToRequesterOnly(t *testing.T) {
	s := newServer(t)
	alice, aliceToken := s.user(t, "alice")
	aliceConn := s.dial(t, alice.ID, aliceToken)

	send(t, aliceConn, models.EventSendMessage, models.SendMessagePayload{Content: "hello?"})
	got := await(t, aliceConn, models.EventSendMessage.ErrorEvent())
	var e models.EventError
	if err := json.Unmarshal(got.Payload, &e); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if e.Code != "invalid_argument" {
		t.Errorf("code = %q, want invalid_argument", e.Code)
	}

	send(t, aliceConn, "teleport", nil)
	got = await(t, aliceConn, models.EventType("teleport").ErrorEvent())
	if err := json.Unmarshal(got.Payload, &e); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if e.Code != "invalid_argument" {
		t.Errorf("unknown event code = %q, want invalid_argument", e.Code)
	}

	// A non-member asking for a group's history gets an empty list.
	send(t, aliceConn, models.EventGetGroupMessages, models.GroupPayload{GroupID: uuid.NewString()})
	got = await(t, aliceConn, models.EventGroupMessages)
	if string(got.Payload) != "[]" {
		t.Errorf("group messages = %s, want []", got.Payload)
	}
}

func TestGroupEndpoints(t *testing.T) {
	s := newServer(t)
	_, adminToken := s.user(t, "admin")
	member, memberToken := s.user(t, "member")

	do := func(method, path, token, body string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(method, s.url+path, strings.NewReader(body))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := do(http.MethodPost, "/api/groups", adminToken, `{"name":"Viewing crew"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create group status = %d", resp.StatusCode)
	}
	var g models.Group
	if err := json.NewDecoder(resp.Body).Decode(&g); err != nil {
		t.Fatalf("decode group: %v", err)
	}

	resp = do(http.MethodPost, "/api/groups/"+g.ID+"/members", memberToken, `{"userId":"`+member.ID+`"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("non-admin add status = %d, want 403", resp.StatusCode)
	}

	resp = do(http.MethodPost, "/api/groups/"+g.ID+"/members", adminToken, `{"userId":"`+member.ID+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add member status = %d", resp.StatusCode)
	}

	resp = do(http.MethodPost, "/api/groups/"+g.ID+"/members", adminToken, `{"userId":"nope"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed member status = %d, want 400", resp.StatusCode)
	}

	resp = do(http.MethodDelete, "/api/groups/"+g.ID+"/members/"+member.ID, memberToken, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("leave group status = %d", resp.StatusCode)
	}
}

func TestMessageAndActivationEndpoints(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	_, aliceToken := s.user(t, "alice")
	_, bobToken := s.user(t, "bob")

	owner := &models.User{ID: uuid.NewString(), Name: "owner", PropertyLimit: 1}
	if err := s.store.CreateUser(ctx, owner); err != nil {
		t.Fatalf("create owner: %v", err)
	}
	ownerToken, err := s.jwt.Sign(owner.ID, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	for i := 0; i < 2; i++ {
		p := &models.Property{ID: uuid.NewString(), Title: "Loft", Status: models.PropertyStatusDraft, CreatedBy: owner.ID}
		if err := s.store.CreateProperty(ctx, p); err != nil {
			t.Fatalf("create property: %v", err)
		}
	}

	do := func(method, path, token, body string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(method, s.url+path, strings.NewReader(body))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := do(http.MethodPost, "/api/messages", aliceToken, `{"receiverId":"`+owner.ID+`","content":"still listed?"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send status = %d", resp.StatusCode)
	}
	var sent models.MessageView
	if err := json.NewDecoder(resp.Body).Decode(&sent); err != nil {
		t.Fatalf("decode message: %v", err)
	}

	if resp := do(http.MethodGet, "/api/messages/"+sent.ID, ownerToken, ""); resp.StatusCode != http.StatusOK {
		t.Errorf("receiver get status = %d", resp.StatusCode)
	}
	if resp := do(http.MethodGet, "/api/messages/"+sent.ID, bobToken, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("outsider get status = %d, want 404", resp.StatusCode)
	}

	resp = do(http.MethodPost, "/api/properties/activate", ownerToken, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("activate status = %d", resp.StatusCode)
	}
	var out map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode activation: %v", err)
	}
	if out["activated"] != 1 {
		t.Errorf("activated = %d, want 1 under a limit of 1", out["activated"])
	}
	if n, err := s.store.CountPropertiesByStatus(ctx, owner.ID, models.PropertyStatusActive); err != nil || n != 1 {
		t.Errorf("active = %d, %v", n, err)
	}
}
