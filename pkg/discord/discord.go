// Package discord adapts the Discord gateway for voice playback and
// announcements. It is the only package that talks to the platform;
// everything above it works against narrow interfaces.
package discord

import (
	"context"
	"flag"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/zachfi/zkit/pkg/util"
)

// Config holds gateway credentials and the guild this instance serves.
type Config struct {
	Token   string `yaml:"token,omitempty"`
	GuildID string `yaml:"guild-id,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Token, util.PrefixConfig(prefix, "token"), "", "Bot token used for the gateway connection.")
	f.StringVar(&cfg.GuildID, util.PrefixConfig(prefix, "guild-id"), "", "Guild served by this instance.")
}

// Session owns the gateway connection. Explicit lifecycle: Open on
// startup, Close on shutdown.
type Session struct {
	cfg    Config
	logger *slog.Logger
	dg     *discordgo.Session
}

// NewSession creates a Session. The gateway is not connected until Open.
func NewSession(cfg Config, logger *slog.Logger) (*Session, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord token is required")
	}
	if cfg.GuildID == "" {
		return nil, errors.New("discord guild-id is required")
	}

	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create discord session")
	}

	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages

	return &Session{
		cfg:    cfg,
		logger: logger.With("module", "discord"),
		dg:     dg,
	}, nil
}

// Open connects to the gateway.
func (s *Session) Open() error {
	if err := s.dg.Open(); err != nil {
		return errors.Wrap(err, "failed to open gateway connection")
	}

	s.logger.Info("gateway connected", "guild", s.cfg.GuildID)

	return nil
}

// Close disconnects from the gateway.
func (s *Session) Close() error {
	return s.dg.Close()
}

// JoinVoice joins the voice channel and returns a connection that accepts
// raw s16le PCM.
func (s *Session) JoinVoice(ctx context.Context, channelID string) (*VoiceConn, error) {
	vc, err := s.dg.ChannelVoiceJoin(s.cfg.GuildID, channelID, false, true)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to join voice channel %s", channelID)
	}

	return newVoiceConn(vc, s.logger)
}

// Notify sends a text message to channelID. Best-effort by contract: the
// caller logs and discards any error.
func (s *Session) Notify(ctx context.Context, channelID, message string) error {
	if _, err := s.dg.ChannelMessageSend(channelID, message); err != nil {
		return errors.Wrapf(err, "failed to send message to channel %s", channelID)
	}

	return nil
}
