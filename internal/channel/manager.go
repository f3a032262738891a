package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrManagerStopped is returned when a message is submitted after Shutdown.
var ErrManagerStopped = errors.New("channel manager stopped")

// ErrQueueFull is returned when a conversation already has the maximum number of queued messages.
var ErrQueueFull = errors.New("conversation queue full")

// BusyReply is sent to a conversation whose message was rejected with ErrQueueFull.
const BusyReply = "Still busy with your earlier messages, please try again shortly."

const busyReplyTimeout = 30 * time.Second

// ConfigLister lists the channel configs the manager should connect.
type ConfigLister interface {
	ListConfigs(ctx context.Context) ([]ChannelConfig, error)
}

// StaticConfigs is a ConfigLister over a fixed set of configs.
type StaticConfigs []ChannelConfig

// ListConfigs returns a copy of the configs.
func (s StaticConfigs) ListConfigs(context.Context) ([]ChannelConfig, error) {
	return append([]ChannelConfig(nil), s...), nil
}

// Middleware wraps an InboundHandler to add cross-cutting behavior.
type Middleware func(next InboundHandler) InboundHandler

// ConnectionStatus describes runtime status for one configured channel connection.
type ConnectionStatus struct {
	ConfigID    string      `json:"config_id"`
	BotID       string      `json:"bot_id"`
	ChannelType ChannelType `json:"channel_type"`
	Running     bool        `json:"running"`
	LastError   string      `json:"last_error,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type connectionEntry struct {
	config     ChannelConfig
	connection Connection
}

// Manager coordinates channel adapters, connection lifecycle, and message dispatch.
// Inbound messages are handled in arrival order per conversation; see dispatch.go.
type Manager struct {
	registry    *Registry
	configs     ConfigLister
	handler     InboundHandler
	logger      *slog.Logger
	middlewares []Middleware
	dispatch    *dispatcher

	mu             sync.Mutex
	started        bool
	connections    map[string]*connectionEntry
	connectionMeta map[string]ConnectionStatus
}

// NewManager creates a Manager that connects the configs listed by configs and
// hands every inbound message to handler.
func NewManager(log *slog.Logger, registry *Registry, configs ConfigLister, handler InboundHandler, opts DispatchOptions) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	logger := log.With(slog.String("component", "channel"))
	return &Manager{
		registry:       registry,
		configs:        configs,
		handler:        handler,
		logger:         logger,
		middlewares:    []Middleware{},
		dispatch:       newDispatcher(logger, opts),
		connections:    map[string]*connectionEntry{},
		connectionMeta: map[string]ConnectionStatus{},
	}
}

// Registry returns the adapter registry used by this manager.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Use appends middleware to the inbound processing chain. It must be called before Start.
func (m *Manager) Use(mw ...Middleware) {
	m.middlewares = append(m.middlewares, mw...)
}

// SetHandler replaces the inbound handler. It must be called before Start.
func (m *Manager) SetHandler(handler InboundHandler) {
	m.handler = handler
}

// RegisterAdapter adds an adapter to the registry and logs the registration.
func (m *Manager) RegisterAdapter(adapter Adapter) {
	if adapter == nil {
		return
	}
	if err := m.registry.Register(adapter); err != nil {
		m.logger.Warn("adapter registration failed", slog.String("channel", adapter.Type().String()), slog.Any("error", err))
		return
	}
	m.logger.Info("adapter registered", slog.String("channel", adapter.Type().String()))
}

// Start begins per-conversation dispatch and connects every enabled config.
// Connections outlive ctx; they are stopped by Shutdown.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info("manager start", slog.Any("channels", m.registry.Types()))
	m.dispatch.start(m.buildHandler())
	if m.configs == nil {
		return nil
	}
	configs, err := m.configs.ListConfigs(ctx)
	if err != nil {
		return fmt.Errorf("list channel configs: %w", err)
	}
	runCtx := context.WithoutCancel(ctx)
	var errs []error
	for _, cfg := range configs {
		if cfg.ID == "" || cfg.Disabled {
			continue
		}
		if err := m.connect(runCtx, cfg); err != nil {
			m.markConnectionStatus(cfg, false, err)
			m.logger.Error(
				"adapter start failed",
				slog.String("bot_id", cfg.BotID),
				slog.String("channel", cfg.ChannelType.String()),
				slog.String("config_id", cfg.ID),
				slog.Any("error", err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) connect(ctx context.Context, cfg ChannelConfig) error {
	receiver, ok := m.registry.GetReceiver(cfg.ChannelType)
	if !ok {
		return fmt.Errorf("receiver not available for %s", cfg.ChannelType)
	}
	conn, err := receiver.Connect(ctx, cfg, m.Submit)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.connections[cfg.ID] = &connectionEntry{config: cfg, connection: conn}
	m.setConnectionStatusLocked(cfg, true, nil)
	m.mu.Unlock()
	m.logger.Info(
		"adapter connected",
		slog.String("bot_id", cfg.BotID),
		slog.String("channel", cfg.ChannelType.String()),
		slog.String("config_id", cfg.ID),
	)
	return nil
}

func (m *Manager) buildHandler() InboundHandler {
	handler := m.handler
	if handler == nil {
		handler = func(context.Context, ChannelConfig, InboundMessage) error { return nil }
	}
	for i := len(m.middlewares) - 1; i >= 0; i-- {
		handler = m.middlewares[i](handler)
	}
	return handler
}

// Submit enqueues msg on its conversation's worker without blocking. When the
// queue is full the message is rejected and the conversation is told to retry.
// Adapters receive Submit as their InboundHandler.
func (m *Manager) Submit(ctx context.Context, cfg ChannelConfig, msg InboundMessage) error {
	if strings.TrimSpace(msg.Conversation.ID) == "" {
		return fmt.Errorf("conversation id is required")
	}
	err := m.dispatch.submit(inboundTask{config: cfg, message: msg})
	if errors.Is(err, ErrQueueFull) {
		m.logger.Warn("inbound rejected",
			slog.String("route_key", msg.RoutingKey()),
			slog.String("message_id", msg.Message.ID),
			slog.Any("error", err),
		)
		go m.replyBusy(context.WithoutCancel(ctx), msg)
	}
	return err
}

func (m *Manager) replyBusy(ctx context.Context, msg InboundMessage) {
	ctx, cancel := context.WithTimeout(ctx, busyReplyTimeout)
	defer cancel()
	err := m.Send(ctx, msg.Channel, OutboundMessage{
		Target:  msg.Conversation.ID,
		Message: Message{Text: BusyReply},
	})
	if err != nil {
		m.logger.Warn("busy reply failed", slog.String("route_key", msg.RoutingKey()), slog.Any("error", err))
	}
}

// Send delivers an outbound text message through the adapter of channelType.
func (m *Manager) Send(ctx context.Context, channelType ChannelType, msg OutboundMessage) error {
	sender, ok := m.registry.GetSender(channelType)
	if !ok {
		return fmt.Errorf("unsupported channel type: %s", channelType)
	}
	target := strings.TrimSpace(msg.Target)
	if target == "" {
		return fmt.Errorf("target is required")
	}
	msg.Target = target
	outbound, err := buildOutboundMessages(msg, m.resolveOutboundPolicy(channelType))
	if err != nil {
		return err
	}
	cfg := m.configFor(channelType)
	for _, item := range outbound {
		if err := sender.Send(ctx, cfg, item); err != nil {
			return err
		}
	}
	return nil
}

// SenderFor binds Send to one channel type.
func (m *Manager) SenderFor(channelType ChannelType) *BoundSender {
	return &BoundSender{manager: m, channelType: channelType}
}

func (m *Manager) configFor(channelType ChannelType) ChannelConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.connections {
		if entry.config.ChannelType == channelType {
			return entry.config
		}
	}
	return ChannelConfig{ChannelType: channelType}
}

// ActiveConversations returns the number of conversations with a live worker.
func (m *Manager) ActiveConversations() int {
	return m.dispatch.activeWorkers()
}

// Shutdown stops all connections, then waits for in-flight handlers until ctx ends.
// Queued messages that have not started are dropped.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopAll(ctx)
	dropped, err := m.dispatch.shutdown(ctx)
	if dropped > 0 {
		m.logger.Warn("dropped queued messages on shutdown", slog.Int("count", dropped))
	}
	m.logger.Info("manager stop")
	return err
}

func (m *Manager) stopAll(ctx context.Context) {
	m.mu.Lock()
	entries := make([]*connectionEntry, 0, len(m.connections))
	for id, entry := range m.connections {
		entries = append(entries, entry)
		delete(m.connections, id)
	}
	m.mu.Unlock()
	for _, entry := range entries {
		if entry.connection == nil {
			continue
		}
		err := entry.connection.Stop(ctx)
		if err != nil && !errors.Is(err, ErrStopNotSupported) {
			m.logger.Warn("adapter stop failed", slog.String("config_id", entry.config.ID), slog.Any("error", err))
		}
		m.markConnectionStatus(entry.config, false, nil)
	}
}

// ConnectionStatuses returns observed channel connection statuses.
func (m *Manager) ConnectionStatuses() []ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]ConnectionStatus, 0, len(m.connectionMeta))
	for id, status := range m.connectionMeta {
		if entry, ok := m.connections[id]; ok && entry.connection != nil {
			status.Running = entry.connection.Running()
		}
		items = append(items, status)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ChannelType == items[j].ChannelType {
			return items[i].ConfigID < items[j].ConfigID
		}
		return items[i].ChannelType < items[j].ChannelType
	})
	return items
}

func (m *Manager) markConnectionStatus(cfg ChannelConfig, running bool, checkErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setConnectionStatusLocked(cfg, running, checkErr)
}

func (m *Manager) setConnectionStatusLocked(cfg ChannelConfig, running bool, checkErr error) {
	status := ConnectionStatus{
		ConfigID:    cfg.ID,
		BotID:       cfg.BotID,
		ChannelType: cfg.ChannelType,
		Running:     running,
		UpdatedAt:   time.Now().UTC(),
	}
	if checkErr != nil {
		status.LastError = checkErr.Error()
	}
	m.connectionMeta[cfg.ID] = status
}

// BoundSender sends through one channel type of a Manager.
type BoundSender struct {
	manager     *Manager
	channelType ChannelType
}

// Send delivers msg through the bound channel type.
func (s *BoundSender) Send(ctx context.Context, msg OutboundMessage) error {
	return s.manager.Send(ctx, s.channelType, msg)
}
