package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"estatehub/database"
	"estatehub/models"
	"estatehub/notify"
)

type sent struct {
	userIDs []string
	msg     models.OutboundMessage
}

type fakeDelivery struct {
	mu     sync.Mutex
	sent   []sent
	online map[string]bool
}

func (d *fakeDelivery) SendToUsers(userIDs []string, msg models.OutboundMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sent{userIDs: userIDs, msg: msg})
}

func (d *fakeDelivery) IsUserOnline(userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.online[userID]
}

type fakeNotifier struct {
	calls  int
	pushes []notify.PushRequest
}

func (n *fakeNotifier) Push(ctx context.Context, reqs ...notify.PushRequest) error {
	n.calls++
	n.pushes = append(n.pushes, reqs...)
	return nil
}

type fixture struct {
	engine   *Engine
	store    database.Store
	delivery *fakeDelivery
	notifier *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	store, err := database.OpenSQLite(context.Background(), "file:"+name+"?mode=memory&cache=shared", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })

	d := &fakeDelivery{online: map[string]bool{}}
	n := &fakeNotifier{}
	e := NewEngine(store, d, n, validator.New(), zaptest.NewLogger(t))

	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	e.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return &fixture{engine: e, store: store, delivery: d, notifier: n}
}

func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{ID: uuid.NewString(), Name: name, DeviceToken: "token-" + name}
	if err := f.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (f *fixture) property(t *testing.T, owner string) *models.Property {
	t.Helper()
	p := &models.Property{ID: uuid.NewString(), Title: "Loft", CreatedBy: owner}
	if err := f.store.CreateProperty(context.Background(), p); err != nil {
		t.Fatalf("create property: %v", err)
	}
	return p
}

func (f *fixture) send(t *testing.T, from, to, content string) *models.MessageView {
	t.Helper()
	v, err := f.engine.SendDirectMessage(context.Background(), from, models.SendMessagePayload{ReceiverID: to, Content: content})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	return v
}

func TestSendDirectMessageRequiresTarget(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "alice")

	_, err := f.engine.SendDirectMessage(context.Background(), a.ID, models.SendMessagePayload{Content: "hello"})
	if !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("err = %v, want invalid argument", err)
	}

	msgs, err := f.store.ListConversationMessages(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("%d messages persisted", len(msgs))
	}
	if len(f.delivery.sent) != 0 {
		t.Fatal("nothing should be delivered")
	}
}

func TestSendDirectMessageRejectsMalformedIDs(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "alice")

	tests := []struct {
		name     string
		senderID string
		req      models.SendMessagePayload
	}{
		{"sender", "not-a-uuid", models.SendMessagePayload{ReceiverID: a.ID, Content: "x"}},
		{"receiver", a.ID, models.SendMessagePayload{ReceiverID: "42", Content: "x"}},
		{"property", a.ID, models.SendMessagePayload{PropertyID: "prop", Content: "x"}},
		{"empty content", a.ID, models.SendMessagePayload{ReceiverID: a.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.SendDirectMessage(context.Background(), tt.senderID, tt.req)
			if !errors.Is(err, models.ErrInvalidArgument) {
				t.Fatalf("err = %v, want invalid argument", err)
			}
		})
	}
}

func TestSendDirectMessageRoutesToPropertyOwner(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "alice")
	b := f.user(t, "bob")
	c := f.user(t, "carol")
	p := f.property(t, b.ID)

	v, err := f.engine.SendDirectMessage(context.Background(), a.ID, models.SendMessagePayload{
		ReceiverID: c.ID,
		PropertyID: p.ID,
		Content:    "Is it still available?",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if v.ReceiverID != b.ID {
		t.Fatalf("receiver = %s, want owner %s", v.ReceiverID, b.ID)
	}
	if v.Property == nil || v.Property.ID != p.ID || v.Sender == nil || v.Sender.Name != "alice" {
		t.Fatalf("view not expanded: %+v", v)
	}

	stored, err := f.store.GetMessage(context.Background(), v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ReceiverID != b.ID {
		t.Fatalf("stored receiver = %s", stored.ReceiverID)
	}

	if len(f.delivery.sent) != 1 {
		t.Fatalf("%d deliveries", len(f.delivery.sent))
	}
	for _, id := range f.delivery.sent[0].userIDs {
		if id == c.ID {
			t.Fatal("ignored receiver got the message")
		}
	}
}

func TestSendDirectMessageUnknownProperty(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "alice")

	_, err := f.engine.SendDirectMessage(context.Background(), a.ID, models.SendMessagePayload{
		PropertyID: uuid.NewString(),
		Content:    "hi",
	})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	msgs, _ := f.store.ListConversationMessages(context.Background(), a.ID)
	if len(msgs) != 0 {
		t.Fatal("message persisted for unknown property")
	}
}

func TestSendDirectMessagePushesOfflineReceiver(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "alice")
	b := f.user(t, "bob")

	f.send(t, a.ID, b.ID, "are you there")
	if len(f.notifier.pushes) != 1 || f.notifier.pushes[0].DeviceToken != "token-bob" {
		t.Fatalf("pushes = %+v", f.notifier.pushes)
	}

	f.delivery.online[b.ID] = true
	f.send(t, a.ID, b.ID, "again")
	if len(f.notifier.pushes) != 1 {
		t.Fatal("online receiver should not get a push")
	}
}

func TestGroupMessagesFailClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "alice")
	b := f.user(t, "bob")
	outsider := f.user(t, "mallory")

	g, err := f.engine.CreateGroup(ctx, a.ID, models.CreateGroupRequest{Name: "Viewing", MemberIDs: []string{b.ID}})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, err := f.engine.SendGroupMessage(ctx, a.ID, models.SendGroupMessagePayload{GroupID: g.ID, Content: "10am"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	got, err := f.engine.GroupMessages(ctx, outsider.ID, g.ID)
	if err != nil {
		t.Fatalf("non-member: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("non-member saw %d messages", len(got))
	}

	got, err = f.engine.GroupMessages(ctx, outsider.ID, uuid.NewString())
	if err != nil || len(got) != 0 {
		t.Fatalf("missing group = %d, %v", len(got), err)
	}

	got, err = f.engine.GroupMessages(ctx, b.ID, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Sender == nil || got[0].Sender.Name != "alice" {
		t.Fatalf("member view = %+v", got)
	}

	if _, err := f.engine.GroupMessages(ctx, b.ID, "bad"); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("malformed id err = %v", err)
	}
}

func TestSendGroupMessageDeliversToMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "alice")
	b := f.user(t, "bob")
	outsider := f.user(t, "mallory")

	g, err := f.engine.CreateGroup(ctx, a.ID, models.CreateGroupRequest{Name: "Team", MemberIDs: []string{b.ID}})
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.engine.SendGroupMessage(ctx, outsider.ID, models.SendGroupMessagePayload{GroupID: g.ID, Content: "hi"})
	if !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("outsider send err = %v, want forbidden", err)
	}

	if _, err := f.engine.SendGroupMessage(ctx, b.ID, models.SendGroupMessagePayload{GroupID: g.ID, Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	last := f.delivery.sent[len(f.delivery.sent)-1]
	if last.msg.Type != models.EventReceiveGroupMessage || len(last.userIDs) != 2 {
		t.Fatalf("delivery = %+v", last)
	}
	for _, id := range last.userIDs {
		if id == outsider.ID {
			t.Fatal("non-member received group message")
		}
	}
}

func TestGroupOfflinePushesAreBatched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "alice")
	b := f.user(t, "bob")
	c := f.user(t, "carol")
	online := f.user(t, "erin")
	silent := &models.User{ID: uuid.NewString(), Name: "dave"}
	if err := f.store.CreateUser(ctx, silent); err != nil {
		t.Fatal(err)
	}
	f.delivery.online[online.ID] = true

	g, err := f.engine.CreateGroup(ctx, a.ID, models.CreateGroupRequest{
		Name:      "Open house",
		MemberIDs: []string{b.ID, c.ID, online.ID, silent.ID},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.SendGroupMessage(ctx, a.ID, models.SendGroupMessagePayload{GroupID: g.ID, Content: "doors at 6"}); err != nil {
		t.Fatal(err)
	}

	if f.notifier.calls != 1 {
		t.Fatalf("notifier called %d times, want one batch", f.notifier.calls)
	}
	got := map[string]string{}
	for _, p := range f.notifier.pushes {
		got[p.UserID] = p.DeviceToken
		if p.Title != "Open house" || p.Data["groupId"] != g.ID {
			t.Errorf("push = %+v", p)
		}
	}
	want := map[string]string{b.ID: "token-bob", c.ID: "token-carol"}
	if len(got) != len(want) || got[b.ID] != want[b.ID] || got[c.ID] != want[c.ID] {
		t.Errorf("pushed %v, want %v", got, want)
	}
}

func TestMarkSeenAndUnseenCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "alice")
	b := f.user(t, "bob")
	c := f.user(t, "carol")
	p := f.property(t, b.ID)

	f.send(t, a.ID, b.ID, "one")
	f.send(t, a.ID, b.ID, "two")
	f.send(t, c.ID, b.ID, "three")
	if _, err := f.engine.SendDirectMessage(ctx, c.ID, models.SendMessagePayload{PropertyID: p.ID, Content: "price?"}); err != nil {
		t.Fatal(err)
	}

	counts, err := f.engine.UnseenCount(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(counts.Direct) != 2 || counts.Direct[0].SenderID != a.ID || counts.Direct[0].Count != 2 || counts.Direct[1].Count != 1 {
		t.Fatalf("direct = %+v", counts.Direct)
	}
	if counts.Direct[0].Sender == nil || counts.Direct[0].Sender.Name != "alice" {
		t.Fatal("sender summary missing")
	}
	if len(counts.Properties) != 1 || counts.Properties[0].Count != 1 || counts.Properties[0].Property == nil {
		t.Fatalf("properties = %+v", counts.Properties)
	}

	n, err := f.engine.MarkSeen(ctx, b.ID, models.MarkSeenPayload{ChatPartnerID: a.ID})
	if err != nil || n != 2 {
		t.Fatalf("mark seen = %d, %v", n, err)
	}
	receipt := f.delivery.sent[len(f.delivery.sent)-1]
	if receipt.msg.Type != models.EventMessagesSeen || receipt.userIDs[0] != a.ID {
		t.Fatalf("receipt = %+v", receipt)
	}

	n, err = f.engine.MarkSeen(ctx, b.ID, models.MarkSeenPayload{ChatPartnerID: a.ID})
	if err != nil || n != 0 {
		t.Fatalf("second mark = %d, %v", n, err)
	}

	counts, err = f.engine.UnseenCount(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(counts.Direct) != 1 || counts.Direct[0].SenderID != c.ID {
		t.Fatalf("after mark direct = %+v", counts.Direct)
	}

	if _, err := f.engine.UnseenCount(ctx, "nope"); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("malformed user err = %v", err)
	}
}

func TestUnseenCountGroups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "alice")
	b := f.user(t, "bob")

	g, err := f.engine.CreateGroup(ctx, a.ID, models.CreateGroupRequest{Name: "G", MemberIDs: []string{b.ID}})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := f.engine.SendGroupMessage(ctx, a.ID, models.SendGroupMessagePayload{GroupID: g.ID, Content: "x"}); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := f.engine.UnseenCount(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(counts.Groups) != 1 || counts.Groups[0].Count != 3 {
		t.Fatalf("groups = %+v", counts.Groups)
	}

	own, err := f.engine.UnseenCount(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(own.Groups) != 0 {
		t.Fatal("sender's own group messages counted as unseen")
	}
}

func TestUnseenCountSkipsHiddenThreads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "alice")
	b := f.user(t, "bob")
	c := f.user(t, "carol")

	f.send(t, b.ID, a.ID, "one")
	f.send(t, b.ID, a.ID, "two")
	f.send(t, c.ID, a.ID, "hi")
	g, err := f.engine.CreateGroup(ctx, b.ID, models.CreateGroupRequest{Name: "G", MemberIDs: []string{a.ID}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.SendGroupMessage(ctx, b.ID, models.SendGroupMessagePayload{GroupID: g.ID, Content: "x"}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.engine.DeleteChat(ctx, a.ID, models.DeleteChatPayload{ChatPartnerID: b.ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.DeleteChat(ctx, a.ID, models.DeleteChatPayload{GroupID: g.ID}); err != nil {
		t.Fatal(err)
	}

	counts, err := f.engine.UnseenCount(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(counts.Direct) != 1 || counts.Direct[0].SenderID != c.ID || counts.Direct[0].Count != 1 {
		t.Fatalf("direct = %+v, want only carol's message", counts.Direct)
	}
	if len(counts.Groups) != 0 {
		t.Fatalf("hidden group still counted: %+v", counts.Groups)
	}

	partners, err := f.engine.ChatPartners(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(partners.Partners) != 1 || partners.Partners[0].Partner.ID != c.ID {
		t.Fatalf("partners = %+v", partners.Partners)
	}

	// A message arriving after the hide is counted again.
	f.send(t, b.ID, a.ID, "three")
	counts, err = f.engine.UnseenCount(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range counts.Direct {
		if d.SenderID == b.ID && d.Count != 1 {
			t.Fatalf("new message after hide counted %d, want 1", d.Count)
		}
	}
}

func TestGetMessageVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "alice")
	b := f.user(t, "bob")
	c := f.user(t, "carol")

	direct := f.send(t, a.ID, b.ID, "offer attached")
	g, err := f.engine.CreateGroup(ctx, a.ID, models.CreateGroupRequest{Name: "Buyers", MemberIDs: []string{b.ID}})
	if err != nil {
		t.Fatal(err)
	}
	grouped, err := f.engine.SendGroupMessage(ctx, a.ID, models.SendGroupMessagePayload{GroupID: g.ID, Content: "tour moved"})
	if err != nil {
		t.Fatal(err)
	}

	v, err := f.engine.GetMessage(ctx, b.ID, direct.ID)
	if err != nil {
		t.Fatalf("receiver get: %v", err)
	}
	if v.Content != "offer attached" || v.Sender == nil || len(v.SoftDelete) != 0 {
		t.Errorf("view = %+v", v)
	}
	if _, err := f.engine.GetMessage(ctx, b.ID, grouped.ID); err != nil {
		t.Errorf("member get group message: %v", err)
	}

	for name, tc := range map[string]struct{ user, msg string }{
		"outsider direct": {c.ID, direct.ID},
		"outsider group":  {c.ID, grouped.ID},
		"missing":         {a.ID, uuid.NewString()},
	} {
		if _, err := f.engine.GetMessage(ctx, tc.user, tc.msg); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("%s: err = %v, want not found", name, err)
		}
	}
	if _, err := f.engine.GetMessage(ctx, a.ID, "nope"); !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("malformed id err = %v", err)
	}

	if _, err := f.engine.DeleteChat(ctx, b.ID, models.DeleteChatPayload{ChatPartnerID: a.ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.GetMessage(ctx, b.ID, direct.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("hidden message err = %v, want not found", err)
	}
	if _, err := f.engine.GetMessage(ctx, a.ID, direct.ID); err != nil {
		t.Errorf("sender still sees the message: %v", err)
	}
}

func TestChatPartnersAndDeleteChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "alice")
	b := f.user(t, "bob")
	c := f.user(t, "carol")

	f.send(t, b.ID, a.ID, "from bob")
	f.send(t, c.ID, a.ID, "from carol")
	f.send(t, a.ID, b.ID, "reply to bob")

	partners, err := f.engine.ChatPartners(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(partners.Partners) != 2 {
		t.Fatalf("partners = %+v", partners.Partners)
	}
	first := partners.Partners[0]
	if first.Partner.ID != b.ID || first.LastMessage.Content != "reply to bob" || first.UnseenCount != 1 {
		t.Fatalf("most recent thread = %+v", first)
	}

	n, err := f.engine.DeleteChat(ctx, a.ID, models.DeleteChatPayload{ChatPartnerID: b.ID})
	if err != nil || n != 2 {
		t.Fatalf("delete chat = %d, %v", n, err)
	}

	partners, err = f.engine.ChatPartners(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(partners.Partners) != 1 || partners.Partners[0].Partner.ID != c.ID {
		t.Fatalf("hidden thread resurfaced: %+v", partners.Partners)
	}

	history, err := f.engine.PreviousChat(ctx, b.ID, models.PreviousChatPayload{UserID1: a.ID, UserID2: b.ID})
	if err != nil || len(history) != 2 {
		t.Fatalf("bob's history = %d, %v", len(history), err)
	}
	if history[0].SoftDelete != nil {
		t.Fatal("soft delete entries leaked to the other party")
	}

	f.send(t, b.ID, a.ID, "new after delete")
	history, err = f.engine.PreviousChat(ctx, a.ID, models.PreviousChatPayload{UserID1: a.ID, UserID2: b.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Content != "new after delete" {
		t.Fatalf("alice history after delete = %+v", history)
	}

	outsider, err := f.engine.PreviousChat(ctx, c.ID, models.PreviousChatPayload{UserID1: a.ID, UserID2: b.ID})
	if err != nil || len(outsider) != 0 {
		t.Fatalf("third party read thread: %d, %v", len(outsider), err)
	}

	if _, err := f.engine.DeleteChat(ctx, a.ID, models.DeleteChatPayload{}); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("empty delete err = %v", err)
	}
}

func TestChatPartnersPropertyThreads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	a := f.user(t, "alice")
	b := f.user(t, "bob")
	p := f.property(t, owner.ID)

	for _, from := range []string{a.ID, b.ID} {
		if _, err := f.engine.SendDirectMessage(ctx, from, models.SendMessagePayload{PropertyID: p.ID, Content: "interested"}); err != nil {
			t.Fatal(err)
		}
	}

	partners, err := f.engine.ChatPartners(ctx, owner.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(partners.Partners) != 2 {
		t.Fatalf("partners = %d", len(partners.Partners))
	}
	if partners.Partners[0].Property == nil || partners.Partners[0].Property.ID != p.ID {
		t.Fatal("property summary missing on thread")
	}
	if len(partners.Properties) != 1 {
		t.Fatalf("listing threads = %+v", partners.Properties)
	}
	if pt := partners.Properties[0]; pt.UnseenCount != 2 || pt.LastMessage.SenderID != b.ID {
		t.Fatalf("listing aggregate = %+v", pt)
	}
}

func TestAllGroupMessagesNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "alice")

	g1, err := f.engine.CreateGroup(ctx, a.ID, models.CreateGroupRequest{Name: "one"})
	if err != nil {
		t.Fatal(err)
	}
	g2, err := f.engine.CreateGroup(ctx, a.ID, models.CreateGroupRequest{Name: "two"})
	if err != nil {
		t.Fatal(err)
	}
	for _, gid := range []string{g1.ID, g2.ID, g1.ID} {
		if _, err := f.engine.SendGroupMessage(ctx, a.ID, models.SendGroupMessagePayload{GroupID: gid, Content: gid}); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := f.engine.AllGroupMessages(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp.After(msgs[i-1].Timestamp) {
			t.Fatal("messages not newest first")
		}
	}
}

func TestListGroupsForAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := &models.User{ID: uuid.NewString(), Name: "root", IsAdmin: true}
	if err := f.store.CreateUser(ctx, admin); err != nil {
		t.Fatal(err)
	}
	a := f.user(t, "alice")

	older, err := f.engine.CreateGroup(ctx, a.ID, models.CreateGroupRequest{Name: "older"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.SendGroupMessage(ctx, a.ID, models.SendGroupMessagePayload{GroupID: older.ID, Content: "hello"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.CreateGroup(ctx, a.ID, models.CreateGroupRequest{Name: "newer"}); err != nil {
		t.Fatal(err)
	}

	denied, err := f.engine.ListGroupsForAdmin(ctx, a.ID)
	if err != nil || len(denied) != 0 {
		t.Fatalf("non-admin got %d groups, %v", len(denied), err)
	}

	groups, err := f.engine.ListGroupsForAdmin(ctx, admin.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 || groups[0].Name != "newer" {
		t.Fatalf("groups = %+v", groups)
	}
	if groups[0].LastMessage != nil {
		t.Fatal("empty group should have no last message")
	}
	if groups[1].LastMessage == nil || groups[1].LastMessage.Content != "hello" {
		t.Fatalf("older group last message = %+v", groups[1].LastMessage)
	}
}

func TestGroupMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "alice")
	b := f.user(t, "bob")
	c := f.user(t, "carol")

	g, err := f.engine.CreateGroup(ctx, a.ID, models.CreateGroupRequest{Name: "G", MemberIDs: []string{b.ID}})
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.engine.AddMember(ctx, b.ID, g.ID, models.GroupMemberRequest{UserID: c.ID})
	if !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("member add err = %v, want forbidden", err)
	}

	g, err = f.engine.AddMember(ctx, a.ID, g.ID, models.GroupMemberRequest{UserID: c.ID})
	if err != nil || !g.IsMember(c.ID) {
		t.Fatalf("admin add = %v", err)
	}

	_, err = f.engine.RemoveMember(ctx, a.ID, g.ID, models.GroupMemberRequest{UserID: a.ID})
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("removing last admin err = %v, want conflict", err)
	}

	if _, err := f.engine.PromoteMember(ctx, a.ID, g.ID, models.GroupMemberRequest{UserID: b.ID}); err != nil {
		t.Fatal(err)
	}
	g, err = f.engine.RemoveMember(ctx, a.ID, g.ID, models.GroupMemberRequest{UserID: a.ID})
	if err != nil {
		t.Fatalf("remove former sole admin: %v", err)
	}
	if g.IsMember(a.ID) || !g.IsAdmin(b.ID) {
		t.Fatalf("members = %+v", g.Members)
	}

	got, err := f.engine.GroupMessages(ctx, a.ID, g.ID)
	if err != nil || len(got) != 0 {
		t.Fatal("removed member can still read the group")
	}

	if _, err := f.engine.CreateGroup(ctx, a.ID, models.CreateGroupRequest{Name: "x", MemberIDs: []string{uuid.NewString()}}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("unknown member err = %v", err)
	}
}
