package conf

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/utils/log"
)

type Server struct {
	Listen string `mapstructure:"listen"`
}

type Upstream struct {
	URL string `mapstructure:"url"`
	// Optional outbound proxy (http, https, socks, socks5).
	ProxyURL string `mapstructure:"proxy_url"`
	// Optional regex restricting which upstream models are exposed.
	ModelFilter string `mapstructure:"model_filter"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type Resolver struct {
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
}

type Stream struct {
	MaxBufferSize       int  `mapstructure:"max_buffer_size"`
	EnableChunkRecovery bool `mapstructure:"enable_chunk_recovery"`
}

type Loading struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

type Storage struct {
	// Root for the alias store file and the blob directory.
	CacheDir string `mapstructure:"cache_dir"`
}

type Config struct {
	Server   Server   `mapstructure:"server"`
	Upstream Upstream `mapstructure:"upstream"`
	Log      Log      `mapstructure:"log"`
	Resolver Resolver `mapstructure:"resolver"`
	Stream   Stream   `mapstructure:"stream"`
	Load     Loading  `mapstructure:"load"`
	Storage  Storage  `mapstructure:"storage"`
}

var AppConfig Config

func Load(path string) error {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("json")
		viper.AddConfigPath("data")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(APP_NAME, "-", "_")))
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err == nil {
		log.Infof("Using config file: %s", viper.ConfigFileUsed())
	} else {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Debugf("No config file found, using defaults and flags")
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return fmt.Errorf("unable to decode config into struct: %w", err)
	}
	return Validate(&AppConfig)
}

func setDefaults() {
	viper.SetDefault("server.listen", "0.0.0.0:11434")
	viper.SetDefault("upstream.url", "http://localhost:1234")
	viper.SetDefault("upstream.proxy_url", "")
	viper.SetDefault("upstream.model_filter", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("resolver.cache_ttl_seconds", 300)
	viper.SetDefault("stream.max_buffer_size", 262144)
	viper.SetDefault("stream.enable_chunk_recovery", false)
	viper.SetDefault("load.timeout_seconds", 15)
	viper.SetDefault("storage.cache_dir", defaultCacheDir())
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, APP_NAME)
	}
	return filepath.Join(os.TempDir(), APP_NAME)
}

func Validate(c *Config) error {
	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Server.Listen, err)
	}
	if !strings.HasPrefix(c.Upstream.URL, "http://") && !strings.HasPrefix(c.Upstream.URL, "https://") {
		return fmt.Errorf("invalid LM Studio URL (must start with http:// or https://): %s", c.Upstream.URL)
	}
	if _, err := url.Parse(c.Upstream.URL); err != nil {
		return fmt.Errorf("invalid LM Studio URL format: %w", err)
	}
	if c.Resolver.CacheTTLSeconds < 0 {
		return fmt.Errorf("resolver.cache_ttl_seconds must not be negative")
	}
	if c.Stream.MaxBufferSize <= 0 {
		return fmt.Errorf("stream.max_buffer_size must be positive")
	}
	if c.Load.TimeoutSeconds <= 0 {
		return fmt.Errorf("load.timeout_seconds must be positive")
	}
	c.Upstream.URL = strings.TrimRight(c.Upstream.URL, "/")
	return nil
}
