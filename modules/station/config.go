package station

import (
	"flag"
	"time"

	"github.com/grafana/dskit/backoff"
	"github.com/zachfi/zkit/pkg/util"

	"github.com/zachfi/airband/pkg/radiobrowser"
	"github.com/zachfi/airband/pkg/transcode"
)

const (
	defaultFirstByteTimeout = 15 * time.Second
	defaultHealthyInterval  = 30 * time.Second
	defaultMinBackoff       = time.Second
	defaultMaxBackoff       = time.Minute
	defaultMaxRetries       = 10
)

type Config struct {
	// Autoplay on startup. Empty station disables autoplay.
	Station           string `yaml:"station,omitempty"`
	VoiceChannelID    string `yaml:"voice-channel-id,omitempty"`
	AnnounceChannelID string `yaml:"announce-channel-id,omitempty"`

	DirectoryURL string `yaml:"directory-url,omitempty"`

	Transcode transcode.Config `yaml:"transcode,omitempty"`

	// FirstByteTimeout bounds how long a session may sit in buffering
	// before it is declared dead (distinguishes "never started" from
	// "died mid-stream").
	FirstByteTimeout time.Duration `yaml:"first-byte-timeout,omitempty"`

	// HealthyInterval is how long a session must keep playing before the
	// reconnect backoff resets.
	HealthyInterval time.Duration `yaml:"healthy-interval,omitempty"`

	MinBackoff time.Duration `yaml:"min-backoff,omitempty"`
	MaxBackoff time.Duration `yaml:"max-backoff,omitempty"`
	MaxRetries int           `yaml:"max-retries,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Station, util.PrefixConfig(prefix, "station"), "",
		"Station name to play on startup. Empty disables autoplay.")
	f.StringVar(&cfg.VoiceChannelID, util.PrefixConfig(prefix, "voice-channel-id"), "",
		"Voice channel ID to broadcast into on startup.")
	f.StringVar(&cfg.AnnounceChannelID, util.PrefixConfig(prefix, "announce-channel-id"), "",
		"Optional text channel ID for now-playing announcements.")
	f.StringVar(&cfg.DirectoryURL, util.PrefixConfig(prefix, "directory-url"), radiobrowser.DefaultBaseURL,
		"Base URL of the radio-browser station directory.")
	f.StringVar(&cfg.Transcode.FFmpegPath, util.PrefixConfig(prefix, "ffmpeg-path"), "ffmpeg",
		"Path to the ffmpeg binary.")
	f.DurationVar(&cfg.FirstByteTimeout, util.PrefixConfig(prefix, "first-byte-timeout"), defaultFirstByteTimeout,
		"How long to wait for the first PCM bytes before declaring the stream dead.")
	f.DurationVar(&cfg.HealthyInterval, util.PrefixConfig(prefix, "healthy-interval"), defaultHealthyInterval,
		"Continuous playback time after which the reconnect backoff resets.")
	f.DurationVar(&cfg.MinBackoff, util.PrefixConfig(prefix, "min-backoff"), defaultMinBackoff,
		"Initial delay between reconnect attempts.")
	f.DurationVar(&cfg.MaxBackoff, util.PrefixConfig(prefix, "max-backoff"), defaultMaxBackoff,
		"Maximum delay between reconnect attempts.")
	f.IntVar(&cfg.MaxRetries, util.PrefixConfig(prefix, "max-retries"), defaultMaxRetries,
		"Reconnect attempts before a request gives up. 0 retries forever.")
}

func (cfg *Config) backoffConfig() backoff.Config {
	return backoff.Config{
		MinBackoff: cfg.MinBackoff,
		MaxBackoff: cfg.MaxBackoff,
		MaxRetries: cfg.MaxRetries,
	}
}
