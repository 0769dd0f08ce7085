package cmd

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/alias"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/blob"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/client"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/conf"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/resolver"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/server"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/utils/log"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/utils/shutdown"
)

var cfgFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start " + conf.APP_NAME,
	PreRun: func(cmd *cobra.Command, args []string) {
		conf.PrintBanner()
		if err := conf.Load(cfgFile); err != nil {
			log.Errorf("config error: %v", err)
			os.Exit(1)
		}
		log.SetLevel(conf.AppConfig.Log.Level)
	},
	Run: func(cmd *cobra.Command, args []string) {
		shutdown.Init(log.Logger)

		if err := client.Init(&conf.AppConfig); err != nil {
			log.Errorf("upstream client init error: %v", err)
			os.Exit(1)
		}

		cacheDir := conf.AppConfig.Storage.CacheDir
		if err := alias.Init(filepath.Join(cacheDir, alias.StoreFileName)); err != nil {
			log.Errorf("alias store init error: %v", err)
			os.Exit(1)
		}
		if err := blob.Init(filepath.Join(cacheDir, "blobs")); err != nil {
			log.Errorf("blob store init error: %v", err)
			os.Exit(1)
		}

		resolver.Init(time.Duration(conf.AppConfig.Resolver.CacheTTLSeconds) * time.Second)

		if err := server.Start(); err != nil {
			log.Errorf("server start error: %v", err)
			os.Exit(1)
		}
		shutdown.Register(server.Close)
		shutdown.Listen()
	},
}

func init() {
	flags := startCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./data/config.json)")
	flags.String("listen", "0.0.0.0:11434", "address the Ollama-compatible API listens on")
	flags.String("lmstudio_url", "http://localhost:1234", "base URL of the LM Studio server")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Int("load_timeout_seconds", 15, "how long to wait for a just-in-time model load")
	flags.Int("model_resolution_cache_ttl_seconds", 300, "TTL of the model name resolution cache, 0 disables expiry")
	flags.Int("max_buffer_size", 262144, "maximum size of a buffered stream event in bytes")
	flags.Bool("enable_chunk_recovery", false, "salvage malformed stream chunks instead of failing the stream")

	viper.BindPFlag("server.listen", flags.Lookup("listen"))
	viper.BindPFlag("upstream.url", flags.Lookup("lmstudio_url"))
	viper.BindPFlag("log.level", flags.Lookup("log-level"))
	viper.BindPFlag("load.timeout_seconds", flags.Lookup("load_timeout_seconds"))
	viper.BindPFlag("resolver.cache_ttl_seconds", flags.Lookup("model_resolution_cache_ttl_seconds"))
	viper.BindPFlag("stream.max_buffer_size", flags.Lookup("max_buffer_size"))
	viper.BindPFlag("stream.enable_chunk_recovery", flags.Lookup("enable_chunk_recovery"))

	rootCmd.AddCommand(startCmd)
}
