package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"whistleblower/internal/config"
	"whistleblower/internal/matcher"
	"whistleblower/internal/model"
	"whistleblower/internal/notify"
	"whistleblower/internal/storage"
	"whistleblower/internal/subscription"
)

// --- mocks ---

type sentMsg struct {
	ChannelID string
	Text      string
}

type mockSlack struct {
	mu          sync.Mutex
	botID       string
	identityErr error
	members     map[string][]string
	lookups     int
	opens       int
	sent        []sentMsg
}

func newMockSlack() *mockSlack {
	return &mockSlack{botID: "UBOT", members: map[string][]string{}}
}

func (m *mockSlack) IdentityLookup(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.identityErr != nil {
		return "", m.identityErr
	}
	return m.botID, nil
}

func (m *mockSlack) ConversationMembers(_ context.Context, channelID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.members[channelID]
	if !ok {
		return nil, errors.New("channel_not_found")
	}
	return members, nil
}

func (m *mockSlack) OpenDirectConversation(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	return "D" + userID, nil
}

func (m *mockSlack) PostMessage(_ context.Context, channelID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMsg{ChannelID: channelID, Text: text})
	return nil
}

func (m *mockSlack) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].Text
}

func (m *mockSlack) sentTo(channelID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.ChannelID == channelID {
			out = append(out, s.Text)
		}
	}
	return out
}

func (m *mockSlack) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

// --- helpers ---

func newTestBot(t *testing.T, cfg *config.Config) (*Bot, *mockSlack, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if cfg == nil {
		cfg = &config.Config{}
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := newMockSlack()
	b := New(
		api,
		NewIdentity(api),
		subscription.New(store, log),
		matcher.New(store),
		notify.New(store, api, 2, log),
		cfg,
		log,
	)
	return b, api, store
}

func mention(text string) model.Event {
	return model.Event{Type: model.EventAppMention, Channel: "C1", User: "U1", Text: "<@UBOT> " + text}
}

func chat(user, text string) model.Event {
	return model.Event{Type: model.EventMessage, ChannelType: model.ChannelTypeChannel, Channel: "C1", User: user, Text: text}
}

func handle(t *testing.T, b *Bot, ev model.Event) {
	t.Helper()
	if err := b.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

const subscribeText = "listen for phrases:\n&gt; foo bar\n&gt; foozah\nin channels: <#C1|ops> <#C2|dev>"

// --- command tests ---

func TestHandleHelp(t *testing.T) {
	for _, text := range []string{"help", "", "what can you do?"} {
		b, api, _ := newTestBot(t, nil)
		handle(t, b, mention(text))
		requireContains(t, api.lastText(), "listen for phrases")
		requireContains(t, api.lastText(), "purge config")
	}
}

func TestHandleSubscribe(t *testing.T) {
	b, api, store := newTestBot(t, nil)
	handle(t, b, mention(subscribeText))

	want := "Updated your configuration!\nYou are listening for phrases\n&gt; foo bar\n&gt; foozah\nin channels [<#C1|ops> <#C2|dev>]"
	if diff := cmp.Diff([]string{want}, api.sentTo("C1")); diff != "" {
		t.Errorf("ack mismatch (-want +got):\n%s", diff)
	}

	ch, err := store.GetChannel(context.Background(), "C2")
	if err != nil {
		t.Fatalf("get C2: %v", err)
	}
	if diff := cmp.Diff([]string{"U1"}, ch.Phrases["foozah"]); diff != "" {
		t.Errorf("C2 users mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleGetConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("no config", func(t *testing.T) {
		b, api, _ := newTestBot(t, nil)
		handle(t, b, mention("get config"))
		if diff := cmp.Diff(msgNoConfig, api.lastText()); diff != "" {
			t.Errorf("reply mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("with config", func(t *testing.T) {
		b, api, store := newTestBot(t, nil)
		if err := store.PutUser(ctx, "U1", &model.UserRecord{
			Phrases:  []string{"foo"},
			Channels: []string{"<#C1|ops>"},
		}); err != nil {
			t.Fatalf("seed user: %v", err)
		}
		handle(t, b, mention("get config"))
		want := "You are listening for phrases\n&gt; foo\nin channels [<#C1|ops>]"
		if diff := cmp.Diff(want, api.lastText()); diff != "" {
			t.Errorf("reply mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestHandlePurge(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t, nil)
	handle(t, b, mention(subscribeText))
	api.reset()

	handle(t, b, mention("purge config"))
	if diff := cmp.Diff(msgPurged, api.lastText()); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
	if _, err := store.GetUser(ctx, "U1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("user record still present: %v", err)
	}
	ch, err := store.GetChannel(ctx, "C1")
	if err != nil {
		t.Fatalf("get C1: %v", err)
	}
	if diff := cmp.Diff(map[string][]string{}, ch.Phrases); diff != "" {
		t.Errorf("C1 phrases mismatch (-want +got):\n%s", diff)
	}
}

func TestAccessDenied(t *testing.T) {
	b, api, store := newTestBot(t, &config.Config{AllowedUsers: []string{"U2"}})
	handle(t, b, mention(subscribeText))

	requireContains(t, api.lastText(), "Access denied")
	if _, err := store.GetUser(context.Background(), "U1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("denied user was subscribed: %v", err)
	}
}

// --- routing tests ---

func TestDirectMessage(t *testing.T) {
	t.Run("bot is a member", func(t *testing.T) {
		b, api, _ := newTestBot(t, nil)
		api.members["D1"] = []string{"U1", "UBOT"}
		handle(t, b, model.Event{Type: model.EventMessage, ChannelType: model.ChannelTypeIM, Channel: "D1", User: "U1", Text: "help"})
		if got := api.sentTo("D1"); len(got) != 1 {
			t.Errorf("expected one reply in D1, got %d", len(got))
		}
	})

	t.Run("bot is not a member", func(t *testing.T) {
		b, api, _ := newTestBot(t, nil)
		api.members["D1"] = []string{"U1", "U2"}
		handle(t, b, model.Event{Type: model.EventMessage, ChannelType: model.ChannelTypeIM, Channel: "D1", User: "U1", Text: "help"})
		if got := api.sentTo("D1"); len(got) != 0 {
			t.Errorf("expected no reply, got %v", got)
		}
	})

	t.Run("members lookup fails", func(t *testing.T) {
		b, api, _ := newTestBot(t, nil)
		handle(t, b, model.Event{Type: model.EventMessage, ChannelType: model.ChannelTypeIM, Channel: "D404", User: "U1", Text: "help"})
		if got := api.sentTo("D404"); len(got) != 0 {
			t.Errorf("expected no reply, got %v", got)
		}
	})
}

func TestChatNotifiesSubscribers(t *testing.T) {
	b, api, _ := newTestBot(t, nil)
	handle(t, b, mention("listen for phrases:\n&gt; deploy failed\nin channels: <#C1|ops>"))
	api.reset()

	handle(t, b, chat("U9", "the deploy failed again"))
	want := []string{"Phrase:\n\n&gt; deploy failed\n\nhas appeared in <#C1|ops>"}
	if diff := cmp.Diff(want, api.sentTo("DU1")); diff != "" {
		t.Errorf("notification mismatch (-want +got):\n%s", diff)
	}

	handle(t, b, chat("U9", "Deploy Failed"))
	handle(t, b, chat("U9", "all good"))
	if got := api.sentTo("DU1"); len(got) != 1 {
		t.Errorf("expected no further notifications, got %d", len(got))
	}
	if diff := cmp.Diff(1, api.opens); diff != "" {
		t.Errorf("open count mismatch (-want +got):\n%s", diff)
	}
}

func TestIgnoredEvents(t *testing.T) {
	tests := []struct {
		name string
		ev   model.Event
	}{
		{name: "bot message subtype", ev: model.Event{Type: model.EventMessage, Subtype: model.SubtypeBotMessage, ChannelType: model.ChannelTypeChannel, Channel: "C1", Text: "deploy failed"}},
		{name: "bot id", ev: model.Event{Type: model.EventMessage, BotID: "B1", ChannelType: model.ChannelTypeChannel, Channel: "C1", Text: "deploy failed"}},
		{name: "own message", ev: chat("UBOT", "Phrase:\n\n&gt; deploy failed")},
		{name: "mentions the bot", ev: chat("U9", "<@UBOT> deploy failed")},
		{name: "group channel", ev: model.Event{Type: model.EventMessage, ChannelType: "group", Channel: "G1", User: "U9", Text: "deploy failed"}},
		{name: "other event type", ev: model.Event{Type: "reaction_added", Channel: "C1", User: "U9"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, api, _ := newTestBot(t, nil)
			handle(t, b, mention("listen for phrases:\n&gt; deploy failed\nin channels: <#C1|ops>"))
			api.reset()

			handle(t, b, tt.ev)
			if diff := cmp.Diff(0, len(api.sentTo("DU1"))); diff != "" {
				t.Errorf("notification count mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIdentityFailureIgnoresEvent(t *testing.T) {
	b, api, _ := newTestBot(t, nil)
	api.identityErr = errors.New("invalid_auth")

	handle(t, b, mention("help"))
	if got := api.lastText(); got != "" {
		t.Errorf("expected no reply, got %q", got)
	}
}

func TestStorageFailurePropagates(t *testing.T) {
	b, _, store := newTestBot(t, nil)
	_ = store.Close()

	if err := b.HandleEvent(context.Background(), chat("U9", "anything")); err == nil {
		t.Error("expected storage error")
	}
	if err := b.HandleEvent(context.Background(), mention(subscribeText)); err == nil {
		t.Error("expected storage error")
	}
}

func TestIdentity(t *testing.T) {
	ctx := context.Background()
	api := newMockSlack()
	id := NewIdentity(api)

	for i := 0; i < 3; i++ {
		got, err := id.UserID(ctx)
		if err != nil {
			t.Fatalf("UserID: %v", err)
		}
		if got != "UBOT" {
			t.Errorf("UserID = %q, want UBOT", got)
		}
	}
	if diff := cmp.Diff(1, api.lookups); diff != "" {
		t.Errorf("lookup count mismatch (-want +got):\n%s", diff)
	}

	api.botID = "UNEW"
	id.Invalidate()
	got, err := id.UserID(ctx)
	if err != nil {
		t.Fatalf("UserID: %v", err)
	}
	if diff := cmp.Diff("UNEW", got); diff != "" {
		t.Errorf("UserID after invalidate mismatch (-want +got):\n%s", diff)
	}

	api.identityErr = errors.New("boom")
	id.Invalidate()
	if _, err := id.UserID(ctx); err == nil {
		t.Error("expected lookup error")
	}
	api.identityErr = nil
	if got, _ := id.UserID(ctx); got != "UNEW" {
		t.Errorf("failed lookup must not be cached, got %q", got)
	}
}

type blockingLookup struct {
	started chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func (b *blockingLookup) IdentityLookup(ctx context.Context) (string, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	b.started <- struct{}{}
	<-b.release
	return "UBOT", nil
}

func TestIdentityLookupDoesNotBlockInvalidate(t *testing.T) {
	ctx := context.Background()
	lookup := &blockingLookup{started: make(chan struct{}, 1), release: make(chan struct{})}
	id := NewIdentity(lookup)

	type result struct {
		id  string
		err error
	}
	results := make(chan result, 2)
	for range 2 {
		go func() {
			got, err := id.UserID(ctx)
			results <- result{got, err}
		}()
	}
	<-lookup.started

	done := make(chan struct{})
	go func() {
		id.Invalidate()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Invalidate blocked behind an in-flight lookup")
	}

	close(lookup.release)
	for range 2 {
		r := <-results
		if r.err != nil {
			t.Fatalf("UserID: %v", r.err)
		}
		if diff := cmp.Diff("UBOT", r.id); diff != "" {
			t.Errorf("UserID mismatch (-want +got):\n%s", diff)
		}
	}
}
