package channel

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const testChannel = ChannelType("test")

type fakeAdapter struct {
	mu      sync.Mutex
	started []ChannelConfig
	sent    []OutboundMessage
	stops   int
	conn    *BaseConnection
	handler InboundHandler
	limit   int
}

func (f *fakeAdapter) Type() ChannelType { return testChannel }

func (f *fakeAdapter) Descriptor() Descriptor {
	return Descriptor{Type: testChannel, DisplayName: "Fake", OutboundPolicy: OutboundPolicy{TextChunkLimit: f.limit}}
}

func (f *fakeAdapter) Connect(_ context.Context, cfg ChannelConfig, handler InboundHandler) (Connection, error) {
	f.mu.Lock()
	f.started = append(f.started, cfg)
	f.handler = handler
	f.mu.Unlock()
	conn := NewConnection(func(context.Context) error {
		f.mu.Lock()
		f.stops++
		f.mu.Unlock()
		return nil
	})
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	return conn, nil
}

func (f *fakeAdapter) Send(_ context.Context, _ ChannelConfig, msg OutboundMessage) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func inbound(conversationID, text string) InboundMessage {
	return InboundMessage{
		Channel:      testChannel,
		Conversation: Conversation{ID: conversationID},
		Message:      Message{Text: text},
	}
}

func newTestManager(t *testing.T, handler InboundHandler, opts DispatchOptions) (*Manager, *fakeAdapter) {
	t.Helper()
	adapter := &fakeAdapter{}
	registry := NewRegistry()
	if err := registry.Register(adapter); err != nil {
		t.Fatalf("register adapter: %v", err)
	}
	m := NewManager(nil, registry, StaticConfigs{{ID: "cfg-1", BotID: "bot", ChannelType: testChannel}}, handler, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, adapter
}

func TestManagerStartConnectsAndShutdownStops(t *testing.T) {
	t.Parallel()
	m, adapter := newTestManager(t, nil, DispatchOptions{})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	adapter.mu.Lock()
	started := len(adapter.started)
	adapter.mu.Unlock()
	if started != 1 {
		t.Fatalf("expected 1 connection, got %d", started)
	}
	statuses := m.ConnectionStatuses()
	if len(statuses) != 1 || !statuses[0].Running {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	adapter.mu.Lock()
	stops := adapter.stops
	adapter.mu.Unlock()
	if stops != 1 {
		t.Fatalf("expected 1 stop, got %d", stops)
	}
	if err := m.Submit(context.Background(), ChannelConfig{}, inbound("1", "late")); !errors.Is(err, ErrManagerStopped) {
		t.Fatalf("expected ErrManagerStopped, got %v", err)
	}
}

func TestManagerStatusReflectsStoppedConnection(t *testing.T) {
	t.Parallel()
	m, adapter := newTestManager(t, nil, DispatchOptions{})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	adapter.mu.Lock()
	conn := adapter.conn
	adapter.mu.Unlock()
	if err := conn.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	statuses := m.ConnectionStatuses()
	if len(statuses) != 1 || statuses[0].Running {
		t.Fatalf("expected stopped connection, got %+v", statuses)
	}
}

func TestManagerPreservesOrderPerConversation(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	seen := map[string][]string{}
	var wg sync.WaitGroup
	const perConversation = 50
	wg.Add(perConversation * 3)
	handler := func(_ context.Context, _ ChannelConfig, msg InboundMessage) error {
		defer wg.Done()
		mu.Lock()
		seen[msg.Conversation.ID] = append(seen[msg.Conversation.ID], msg.Message.Text)
		mu.Unlock()
		return nil
	}
	m, _ := newTestManager(t, handler, DispatchOptions{MaxConcurrency: 3, QueueSize: perConversation})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < perConversation; i++ {
		for _, id := range []string{"a", "b", "c"} {
			if err := m.Submit(context.Background(), ChannelConfig{}, inbound(id, strconv.Itoa(i))); err != nil {
				t.Fatalf("Submit failed: %v", err)
			}
		}
	}
	waitGroup(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	for _, id := range []string{"a", "b", "c"} {
		got := seen[id]
		if len(got) != perConversation {
			t.Fatalf("conversation %s handled %d messages", id, len(got))
		}
		for i, text := range got {
			if text != strconv.Itoa(i) {
				t.Fatalf("conversation %s out of order at %d: %v", id, i, got)
			}
		}
	}
}

func TestManagerHandlesConversationsInParallel(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	fastDone := make(chan struct{})
	handler := func(_ context.Context, _ ChannelConfig, msg InboundMessage) error {
		if msg.Conversation.ID == "slow" {
			<-release
			return nil
		}
		close(fastDone)
		return nil
	}
	m, _ := newTestManager(t, handler, DispatchOptions{MaxConcurrency: 2})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer close(release)
	if err := m.Submit(context.Background(), ChannelConfig{}, inbound("slow", "download")); err != nil {
		t.Fatal(err)
	}
	if err := m.Submit(context.Background(), ChannelConfig{}, inbound("fast", "help")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-fastDone:
	case <-time.After(2 * time.Second):
		t.Fatal("unrelated conversation was blocked by a slow one")
	}
}

func TestManagerFullQueueDoesNotBlockOtherConversations(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	busyStarted := make(chan struct{}, 1)
	otherDone := make(chan struct{})
	handler := func(_ context.Context, _ ChannelConfig, msg InboundMessage) error {
		if msg.Conversation.ID == "busy" {
			select {
			case busyStarted <- struct{}{}:
			default:
			}
			<-release
			return nil
		}
		close(otherDone)
		return nil
	}
	m, adapter := newTestManager(t, handler, DispatchOptions{MaxConcurrency: 2, QueueSize: 2})
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer close(release)

	// One running plus two queued fills "busy"; the fourth is rejected.
	var rejected int
	for i := 0; i < 4; i++ {
		err := m.Submit(context.Background(), ChannelConfig{}, inbound("busy", strconv.Itoa(i)))
		if errors.Is(err, ErrQueueFull) {
			rejected++
			continue
		}
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if i == 0 {
			select {
			case <-busyStarted:
			case <-time.After(2 * time.Second):
				t.Fatal("busy conversation never started")
			}
		}
	}
	if rejected != 1 {
		t.Fatalf("expected 1 rejected message, got %d", rejected)
	}

	submitted := make(chan error, 1)
	go func() {
		submitted <- m.Submit(context.Background(), ChannelConfig{}, inbound("other", "help"))
	}()
	select {
	case err := <-submitted:
		if err != nil {
			t.Fatalf("Submit for other conversation failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked behind a full conversation queue")
	}
	select {
	case <-otherDone:
	case <-time.After(2 * time.Second):
		t.Fatal("other conversation was not delivered")
	}

	waitFor(t, func() bool {
		adapter.mu.Lock()
		defer adapter.mu.Unlock()
		return len(adapter.sent) == 1
	})
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if adapter.sent[0].Target != "busy" || adapter.sent[0].Message.Text != BusyReply {
		t.Fatalf("unexpected busy reply: %+v", adapter.sent[0])
	}
}

func TestManagerRecoversHandlerPanic(t *testing.T) {
	t.Parallel()
	done := make(chan struct{})
	handler := func(_ context.Context, _ ChannelConfig, msg InboundMessage) error {
		if msg.Message.Text == "boom" {
			panic("boom")
		}
		close(done)
		return nil
	}
	m, _ := newTestManager(t, handler, DispatchOptions{})
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	_ = m.Submit(context.Background(), ChannelConfig{}, inbound("1", "boom"))
	_ = m.Submit(context.Background(), ChannelConfig{}, inbound("1", "next"))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a handler panic")
	}
}

func TestManagerReapsIdleWorkers(t *testing.T) {
	t.Parallel()
	var wg sync.WaitGroup
	wg.Add(1)
	handler := func(context.Context, ChannelConfig, InboundMessage) error {
		wg.Done()
		return nil
	}
	m, _ := newTestManager(t, handler, DispatchOptions{IdleTimeout: 20 * time.Millisecond})
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.Submit(context.Background(), ChannelConfig{}, inbound("1", "hi")); err != nil {
		t.Fatal(err)
	}
	waitGroup(t, &wg)
	deadline := time.Now().Add(2 * time.Second)
	for m.ActiveConversations() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("idle worker was not reaped")
		}
		time.Sleep(5 * time.Millisecond)
	}

	wg.Add(1)
	if err := m.Submit(context.Background(), ChannelConfig{}, inbound("1", "again")); err != nil {
		t.Fatal(err)
	}
	waitGroup(t, &wg)
}

func TestManagerMiddlewareOrder(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var calls []string
	record := func(name string) Middleware {
		return func(next InboundHandler) InboundHandler {
			return func(ctx context.Context, cfg ChannelConfig, msg InboundMessage) error {
				mu.Lock()
				calls = append(calls, name)
				mu.Unlock()
				return next(ctx, cfg, msg)
			}
		}
	}
	done := make(chan struct{})
	m, _ := newTestManager(t, func(context.Context, ChannelConfig, InboundMessage) error {
		close(done)
		return nil
	}, DispatchOptions{})
	m.Use(record("outer"), record("inner"))
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	_ = m.Submit(context.Background(), ChannelConfig{}, inbound("1", "x"))
	<-done
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(calls, ",") != "outer,inner" {
		t.Fatalf("unexpected middleware order: %v", calls)
	}
}

func TestManagerSendChunksText(t *testing.T) {
	t.Parallel()
	m, adapter := newTestManager(t, nil, DispatchOptions{})
	adapter.limit = 11
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	sender := m.SenderFor(testChannel)
	err := sender.Send(context.Background(), OutboundMessage{Target: " 42 ", Message: Message{Text: "first line\nsecond line"}})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.sent) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(adapter.sent))
	}
	if adapter.sent[0].Target != "42" || adapter.sent[0].Message.Text != "first line" {
		t.Fatalf("unexpected first chunk: %+v", adapter.sent[0])
	}

	if err := sender.Send(context.Background(), OutboundMessage{Message: Message{Text: "x"}}); err == nil {
		t.Fatal("expected error for missing target")
	}
	if err := m.Send(context.Background(), ChannelType("missing"), OutboundMessage{Target: "1", Message: Message{Text: "x"}}); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitGroup(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handlers")
	}
}
