// Package router turns inbound chat messages into dialogue transitions,
// gates privileged effects on the allow-list, and executes them.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"

	"github.com/memohai/tgdownloader/internal/channel"
	"github.com/memohai/tgdownloader/internal/conversation"
	"github.com/memohai/tgdownloader/internal/media"
)

// ErrPermissionDenied marks a privileged request from a requester outside the allow-list.
var ErrPermissionDenied = errors.New("permission denied")

// Replies sent to the requester.
const (
	ReplyPermissionDenied = "Permission Denied."
	ReplyDownloadComplete = "Download Complete"
	ReplyCancel           = "Cancel the dialogue"
	ReplyInvalid          = "invalid command, please use /help"
	ReplyAwaitSource      = "Send the channel id, or forward a message from the channel."
	ReplyAwaitChoice      = "Source %s selected. Now send or forward the media to download."
	ReplyNoAttachment     = "Nothing to download: attach a video or file and use /download as its caption."
	ReplyResolveFailed    = "Download failed: the file could not be retrieved."
	ReplyTooLarge         = "Download failed: the file is too large."
	ReplyIOFailed         = "Download failed: the file could not be saved."
)

// Authorizer decides whether an identity may trigger privileged effects.
type Authorizer interface {
	IsAuthorized(id string) bool
}

// Fetcher downloads one remote file.
type Fetcher interface {
	Fetch(ctx context.Context, req media.DownloadRequest) media.DownloadResult
}

// Notifier replies to a conversation.
type Notifier interface {
	Notify(ctx context.Context, conversationID, text string) error
}

// Router is the command router.
type Router struct {
	auth     Authorizer
	sessions *conversation.Store
	fetcher  Fetcher
	notifier Notifier
	logger   *slog.Logger
}

// New creates a Router.
func New(log *slog.Logger, auth Authorizer, sessions *conversation.Store, fetcher Fetcher, notifier Notifier) *Router {
	if log == nil {
		log = slog.Default()
	}
	if sessions == nil {
		sessions = conversation.NewStore()
	}
	return &Router{
		auth:     auth,
		sessions: sessions,
		fetcher:  fetcher,
		notifier: notifier,
		logger:   log.With(slog.String("component", "router")),
	}
}

// HandleInbound processes one inbound message. It matches channel.InboundHandler.
// Panics are recovered and reported as errors so one message never takes the
// process down.
func (r *Router) HandleInbound(ctx context.Context, _ channel.ChannelConfig, msg channel.InboundMessage) (err error) {
	conversationID := strings.TrimSpace(msg.Conversation.ID)
	logger := r.logger.With(
		slog.String("request_id", uuid.NewString()),
		slog.String("conversation_id", conversationID),
		slog.String("sender_id", msg.Sender.SubjectID),
	)
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("router panic", slog.Any("panic", rec), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("router panic: %v", rec)
		}
	}()
	if conversationID == "" {
		return fmt.Errorf("conversation id is required")
	}

	input := inputFor(msg)
	authorized := r.authorized(msg)
	var (
		effect conversation.Effect
		denied bool
	)
	r.sessions.Update(conversationID, func(cur conversation.Session) conversation.Session {
		next, eff := conversation.Transition(cur, input)
		effect = eff
		if eff.Privileged() && !authorized {
			denied = true
			return cur
		}
		return next
	})

	if denied {
		logger.Warn("unauthorized request", slog.String("effect", string(effect.Kind)), slog.Any("error", ErrPermissionDenied))
		r.reply(ctx, conversationID, ReplyPermissionDenied)
		return nil
	}
	logger.Debug("transition", slog.String("command", string(input.Command)), slog.String("effect", string(effect.Kind)))
	r.execute(ctx, logger, conversationID, msg, effect)
	return nil
}

// Session returns the current dialogue state of a conversation.
func (r *Router) Session(conversationID string) conversation.Session {
	return r.sessions.Get(conversationID)
}

func (r *Router) authorized(msg channel.InboundMessage) bool {
	if r.auth == nil {
		return true
	}
	if r.auth.IsAuthorized(strings.TrimSpace(msg.Conversation.ID)) {
		return true
	}
	sender := strings.TrimSpace(msg.Sender.SubjectID)
	return sender != "" && r.auth.IsAuthorized(sender)
}

func (r *Router) execute(ctx context.Context, logger *slog.Logger, conversationID string, msg channel.InboundMessage, effect conversation.Effect) {
	switch effect.Kind {
	case conversation.EffectHelp:
		r.reply(ctx, conversationID, conversation.HelpText())
	case conversation.EffectDownload:
		r.download(ctx, logger, conversationID, msg, "")
	case conversation.EffectAwaitSource:
		r.reply(ctx, conversationID, ReplyAwaitSource)
	case conversation.EffectAwaitChoice:
		r.reply(ctx, conversationID, fmt.Sprintf(ReplyAwaitChoice, effect.Source))
	case conversation.EffectFetchFromSource:
		if origin := msg.ForwardedFromID(); origin != "" && origin != effect.Source {
			logger.Info("forwarded origin differs from selected source",
				slog.String("source", effect.Source),
				slog.String("forwarded_from", origin),
			)
		}
		r.download(ctx, logger, conversationID, msg, effect.Source)
	case conversation.EffectCancel:
		r.reply(ctx, conversationID, ReplyCancel)
	default:
		r.reply(ctx, conversationID, ReplyInvalid)
	}
}

func (r *Router) download(ctx context.Context, logger *slog.Logger, conversationID string, msg channel.InboundMessage, subdir string) {
	att, ok := msg.Message.PrimaryAttachment()
	if !ok {
		logger.Info("download without attachment")
		r.reply(ctx, conversationID, ReplyNoAttachment)
		return
	}
	if r.fetcher == nil {
		logger.Error("download unavailable", slog.Any("error", media.ErrProviderUnavailable))
		r.reply(ctx, conversationID, ReplyIOFailed)
		return
	}
	res := r.fetcher.Fetch(ctx, media.DownloadRequest{
		Ref:            att.Reference(),
		SuggestedName:  att.Name,
		ConversationID: conversationID,
		Subdir:         subdir,
		MediaType:      mediaTypeFor(att.Type),
		Mime:           att.Mime,
		SizeHint:       att.Size,
	})
	if res.OK() {
		logger.Info("download complete", slog.String("path", res.Path), slog.Int64("bytes", res.Bytes))
		r.reply(ctx, conversationID, ReplyDownloadComplete)
		return
	}
	logger.Warn("download failed", slog.Any("error", res.Err))
	r.reply(ctx, conversationID, failureReply(res.Err))
}

func (r *Router) reply(ctx context.Context, conversationID, text string) {
	if r.notifier == nil {
		return
	}
	// Delivery failures are logged by the notifier.
	_ = r.notifier.Notify(ctx, conversationID, text)
}

func failureReply(err error) string {
	switch {
	case errors.Is(err, media.ErrNoAttachment):
		return ReplyNoAttachment
	case errors.Is(err, media.ErrResolutionFailed):
		return ReplyResolveFailed
	case errors.Is(err, media.ErrAssetTooLarge):
		return ReplyTooLarge
	default:
		return ReplyIOFailed
	}
}

func inputFor(msg channel.InboundMessage) conversation.Input {
	in := conversation.Input{ForwardedFrom: msg.ForwardedFromID()}
	if msg.Message.Command != nil {
		in.Command = conversation.ParseCommand(msg.Message.Command.Name)
		in.Args = strings.TrimSpace(msg.Message.Command.Args)
		return in
	}
	in.Command = conversation.CommandNone
	in.Args = msg.Message.PlainText()
	return in
}

func mediaTypeFor(t channel.AttachmentType) media.MediaType {
	switch t {
	case channel.AttachmentImage:
		return media.MediaTypeImage
	case channel.AttachmentAudio:
		return media.MediaTypeAudio
	case channel.AttachmentVoice:
		return media.MediaTypeVoice
	case channel.AttachmentVideo:
		return media.MediaTypeVideo
	case channel.AttachmentVideoNote:
		return media.MediaTypeVideoNote
	case channel.AttachmentGIF:
		return media.MediaTypeAnimation
	default:
		return media.MediaTypeFile
	}
}
