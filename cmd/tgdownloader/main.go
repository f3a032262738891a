package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memohai/tgdownloader/internal/config"
	"github.com/memohai/tgdownloader/internal/version"
)

type rootOptions struct {
	configPath   string
	token        string
	path         string
	logLevel     string
	allowedUsers []string
	serverAddr   string
}

//go:generate swag init --dir ../../ --generalInfo cmd/tgdownloader/main.go --output ../../internal/docs --outputTypes go

// @title tgdownloader status API
// @version 1.0
// @description Read-only health and status endpoints of the Telegram download gateway.
// @BasePath /
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return buildRootCmd(&rootOptions{})
}

func buildRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tgdownloader",
		Short:         "Telegram bot that saves media sent to it into a local directory",
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "Config file path (.toml, .yaml). Defaults to $CONFIG_PATH or config.toml.")
	flags.StringVarP(&opts.token, "token", "t", "", "Telegram bot token.")
	flags.StringVarP(&opts.path, "path", "p", "", "Directory downloads are saved to.")
	flags.StringVarP(&opts.logLevel, "loglevel", "l", "", "Log level: debug, info, warn, error.")
	flags.StringArrayVarP(&opts.allowedUsers, "allowed-user", "a", nil, "User or chat id allowed to download. Repeatable; none means everyone.")
	flags.StringVar(&opts.serverAddr, "server-addr", "", "Listen address of the status server. Empty disables it.")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "tgdownloader", version.GetInfo())
		},
	}
}

// loadConfig layers flags over the config file and environment, then validates.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, error) {
	path := strings.TrimSpace(opts.configPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("CONFIG_PATH"))
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	applyFlags(cmd, opts, &cfg)
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, opts *rootOptions, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("token") {
		cfg.Telegram.Token = strings.TrimSpace(opts.token)
	}
	if flags.Changed("path") {
		cfg.Storage.Dir = strings.TrimSpace(opts.path)
	}
	if flags.Changed("loglevel") {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(opts.logLevel))
	}
	if flags.Changed("allowed-user") {
		cfg.Access.AllowedUsers = splitIDs(opts.allowedUsers)
	}
	if flags.Changed("server-addr") {
		cfg.Server.Addr = strings.TrimSpace(opts.serverAddr)
	}
}

// splitIDs accepts both repeated flags and comma separated values.
func splitIDs(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}
