package search

import (
	"flag"

	"github.com/zachfi/zkit/pkg/util"

	"github.com/zachfi/airband/pkg/radiobrowser"
)

type Config struct {
	DirectoryURL string `yaml:"directory-url,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.DirectoryURL, util.PrefixConfig(prefix, "directory-url"), radiobrowser.DefaultBaseURL,
		"Base URL of the radio-browser station directory.")
}
