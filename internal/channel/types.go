// Package channel connects chat platform adapters to the command router.
// It defines the unified message types, the adapter interfaces, and a
// Manager that owns adapter connections and per-conversation dispatch.
package channel

import (
	"strings"
	"time"
)

// ChannelType identifies a messaging platform (e.g., "telegram").
type ChannelType string

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// Identity represents a sender's identity on a channel.
type Identity struct {
	SubjectID   string
	DisplayName string
	Attributes  map[string]string
}

// Attribute returns the trimmed value for the given key, or empty string if absent.
func (i Identity) Attribute(key string) string {
	if i.Attributes == nil {
		return ""
	}
	return strings.TrimSpace(i.Attributes[key])
}

// Conversation holds metadata about the chat or channel context.
type Conversation struct {
	ID   string
	Type string
	Name string
}

// Command is a slash command parsed by the transport adapter.
type Command struct {
	Name string `json:"name"`
	Args string `json:"args,omitempty"`
}

// AttachmentType classifies the kind of binary attachment.
type AttachmentType string

const (
	AttachmentImage     AttachmentType = "image"
	AttachmentAudio     AttachmentType = "audio"
	AttachmentVideo     AttachmentType = "video"
	AttachmentVideoNote AttachmentType = "video_note"
	AttachmentVoice     AttachmentType = "voice"
	AttachmentFile      AttachmentType = "file"
	AttachmentGIF       AttachmentType = "gif"
)

// Attachment represents a remote file attached to a message.
type Attachment struct {
	Type        AttachmentType `json:"type"`
	URL         string         `json:"url,omitempty"`
	PlatformKey string         `json:"platform_key,omitempty"`
	UniqueID    string         `json:"unique_id,omitempty"`
	Name        string         `json:"name,omitempty"`
	Size        int64          `json:"size,omitempty"`
	Mime        string         `json:"mime,omitempty"`
}

// Reference returns the strongest available attachment reference.
// The platform key is preferred since it can be resolved by the adapter.
func (a Attachment) Reference() string {
	if strings.TrimSpace(a.PlatformKey) != "" {
		return strings.TrimSpace(a.PlatformKey)
	}
	return strings.TrimSpace(a.URL)
}

// HasReference reports whether URL or platform key is available.
func (a Attachment) HasReference() bool {
	return a.Reference() != ""
}

// Message is the unified message structure used across channels.
type Message struct {
	ID          string       `json:"id,omitempty"`
	Text        string       `json:"text,omitempty"`
	Command     *Command     `json:"command,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// IsEmpty reports whether the message carries no content.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Text) == "" && m.Command == nil && len(m.Attachments) == 0
}

// PlainText returns the trimmed message text.
func (m Message) PlainText() string {
	return strings.TrimSpace(m.Text)
}

// PrimaryAttachment returns the first attachment carrying a reference.
func (m Message) PrimaryAttachment() (Attachment, bool) {
	for _, att := range m.Attachments {
		if att.HasReference() {
			return att, true
		}
	}
	return Attachment{}, false
}

// InboundMessage is a message received from an external channel.
type InboundMessage struct {
	Channel      ChannelType
	Message      Message
	BotID        string
	Sender       Identity
	Conversation Conversation
	// ForwardedFrom is set when the message was forwarded from another chat.
	ForwardedFrom *Conversation
	ReceivedAt    time.Time
}

// RoutingKey returns the key that orders message handling.
// Format: platform:conversation_id.
func (m InboundMessage) RoutingKey() string {
	return GenerateRoutingKey(string(m.Channel), m.Conversation.ID)
}

// ForwardedFromID returns the trimmed id of the forwarding origin, if any.
func (m InboundMessage) ForwardedFromID() string {
	if m.ForwardedFrom == nil {
		return ""
	}
	return strings.TrimSpace(m.ForwardedFrom.ID)
}

// GenerateRoutingKey builds a route key from platform and conversation id.
func GenerateRoutingKey(platform, conversationID string) string {
	return strings.TrimSpace(platform) + ":" + strings.TrimSpace(conversationID)
}

// OutboundMessage pairs a delivery target with the message content.
type OutboundMessage struct {
	Target  string  `json:"target"`
	Message Message `json:"message"`
}

// ChannelConfig identifies one configured adapter connection.
type ChannelConfig struct {
	ID          string      `json:"id"`
	BotID       string      `json:"bot_id"`
	ChannelType ChannelType `json:"channel_type"`
	Disabled    bool        `json:"disabled"`
}
