package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Servers  []ServerConfig `mapstructure:"servers" yaml:"servers"`
	Dirs     DirConfig      `mapstructure:"dirs" yaml:"dirs"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`

	Port string `mapstructure:"port" yaml:"port"`
}

type ServerConfig struct {
	ID             string        `mapstructure:"id" yaml:"id"`
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	Username       string        `mapstructure:"username" yaml:"username"`
	Password       string        `mapstructure:"password" yaml:"password"`
	TLS            bool          `mapstructure:"tls" yaml:"tls"`
	TLSSkipVerify  bool          `mapstructure:"tls_skip_verify" yaml:"tls_skip_verify"`
	MaxConnections int           `mapstructure:"max_connections" yaml:"max_connections"`
	Priority       int           `mapstructure:"priority" yaml:"priority"`
	Optional       bool          `mapstructure:"optional" yaml:"optional"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequiresGroup  bool          `mapstructure:"requires_group" yaml:"requires_group"`
}

type DirConfig struct {
	Admin      string `mapstructure:"admin" yaml:"admin"`
	Incomplete string `mapstructure:"incomplete" yaml:"incomplete"`
	Complete   string `mapstructure:"complete" yaml:"complete"`
}

type DownloadConfig struct {
	// CacheLimitMB bounds the in-memory article cache.
	CacheLimitMB int `mapstructure:"cache_limit_mb" yaml:"cache_limit_mb"`
	// SpeedLimitKB is the global bandwidth ceiling; 0 means unlimited.
	SpeedLimitKB int `mapstructure:"speed_limit_kb" yaml:"speed_limit_kb"`
	// ArticleRetries is the per-server retry count before an article
	// is handed to the next server.
	ArticleRetries int `mapstructure:"article_retries" yaml:"article_retries"`
	// PropagationDelay keeps freshly posted jobs out of the scheduler
	// until servers have had time to receive the articles.
	PropagationDelay time.Duration `mapstructure:"propagation_delay" yaml:"propagation_delay"`
	// TopOnly restricts the scheduler to the first runnable job.
	TopOnly bool `mapstructure:"top_only" yaml:"top_only"`
	// BadArticlePercent aborts a job early when more than this share of
	// its articles is lost on every server. 0 disables the early abort.
	BadArticlePercent int `mapstructure:"bad_article_percent" yaml:"bad_article_percent"`
	// NoDupes marks a second job carrying the same duplicate key as paused
	// instead of downloading it twice.
	NoDupes bool `mapstructure:"no_dupes" yaml:"no_dupes"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

const (
	MinTimeout = 10 * time.Second
	MaxTimeout = 4 * time.Minute
)

func Load(path string) (*Config, error) {

	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Docker-style fallback location
		if path == "config.yaml" {
			if _, errEx := os.Stat("/config/config.yaml"); errEx == nil {
				path = "/config/config.yaml"
			} else {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
		} else {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	v := viper.New()

	v.SetDefault("port", "8090")
	v.SetDefault("dirs.admin", "./admin")
	v.SetDefault("dirs.incomplete", "./incomplete")
	v.SetDefault("dirs.complete", "./complete")
	v.SetDefault("download.cache_limit_mb", 256)
	v.SetDefault("download.article_retries", 2)
	v.SetDefault("download.propagation_delay", "0s")
	v.SetDefault("log.path", "nzbd.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	v.SetEnvPrefix("NZBD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return errors.New("at least one server must be configured")
	}

	seen := make(map[string]bool)
	for i, s := range c.Servers {
		if s.ID == "" {
			return fmt.Errorf("server[%d] requires a unique ID", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate server ID: %s", s.ID)
		}
		seen[s.ID] = true

		if s.Host == "" {
			return fmt.Errorf("server %s: host is required", s.ID)
		}

		if s.Port == 0 {
			return fmt.Errorf("server %s: port is required", s.ID)
		}

		if s.MaxConnections <= 0 {
			c.Servers[i].MaxConnections = 8
		}

		// Clamp the timeout to something a news server will tolerate.
		if s.Timeout < MinTimeout {
			c.Servers[i].Timeout = MinTimeout
		} else if s.Timeout > MaxTimeout {
			c.Servers[i].Timeout = MaxTimeout
		}
	}

	if c.Download.CacheLimitMB <= 0 {
		c.Download.CacheLimitMB = 256
	}

	if c.Download.ArticleRetries <= 0 {
		c.Download.ArticleRetries = 2
	}

	if c.Download.BadArticlePercent < 0 || c.Download.BadArticlePercent > 100 {
		return fmt.Errorf("bad_article_percent must be 0-100, got %d", c.Download.BadArticlePercent)
	}

	return nil
}
