package telegram

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/tgdownloader/internal/config"
)

// settings is the normalized adapter configuration.
type settings struct {
	token          string
	apiEndpoint    string
	fileEndpoint   string
	pollTimeout    int
	requestTimeout time.Duration
}

func normalizeConfig(cfg config.TelegramConfig) (settings, error) {
	s := settings{
		token:          strings.TrimSpace(cfg.Token),
		apiEndpoint:    strings.TrimSpace(cfg.APIEndpoint),
		fileEndpoint:   strings.TrimSpace(cfg.FileEndpoint),
		pollTimeout:    int(cfg.PollTimeoutDuration() / time.Second),
		requestTimeout: cfg.RequestTimeoutDuration(),
	}
	if s.token == "" {
		return settings{}, fmt.Errorf("telegram bot token is required")
	}
	if s.apiEndpoint == "" {
		s.apiEndpoint = tgbotapi.APIEndpoint
	}
	if s.fileEndpoint == "" {
		s.fileEndpoint = tgbotapi.FileEndpoint
	}
	if strings.Count(s.apiEndpoint, "%s") != 2 || strings.Count(s.fileEndpoint, "%s") != 2 {
		return settings{}, fmt.Errorf("telegram endpoints must contain two %%s placeholders (token, method or path)")
	}
	return s, nil
}

// slogBotLogger routes tgbotapi's internal logging to slog.
type slogBotLogger struct {
	log *slog.Logger
}

func (l *slogBotLogger) Println(v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l *slogBotLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
