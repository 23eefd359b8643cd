// Package main provides the entry point for the rustcache CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rustcache/rustcache/internal/provision"
	"github.com/rustcache/rustcache/utils"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile    string
	channel       string
	profile       string
	proxy         bool
	mdbookVersion string
	cacheDir      string
	clearCache    bool

	rootCmd = &cobra.Command{
		Use:   "rustcache [flags] [-- command...]",
		Short: "Provision a cached Rust toolchain for CI",
		Long: paragraph(
			fmt.Sprintf("\nProvision a Rust toolchain with %s between one-shot CI runs. On a cold cache rustup is bootstrapped and its state snapshotted; on a warm cache the snapshot is restored. A command given after %s runs with the toolchain environment, and any state it mutates is written back into the cache.", keyword("snapshot caching"), keyword("--")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.ArbitraryArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

func validateOptions(cmd *cobra.Command) error {
	// grab config values from Viper
	channel = viper.GetString("channel")
	profile = viper.GetString("profile")
	proxy = viper.GetBool("proxy")
	mdbookVersion = viper.GetString("mdbook")
	cacheDir = viper.GetString("cache_dir")
	clearCache = viper.GetBool("clear_cache")

	if cacheDir == "" && !cmd.Flags().Changed("cache-dir") {
		cacheDir = defaultCacheDir()
	}
	cacheDir = utils.ExpandPath(cacheDir)

	return nil
}

func execute(_ *cobra.Command, args []string) error {
	if lvl := os.Getenv("RUSTCACHE_LOG"); lvl != "" {
		log.Debug("log level from environment", "RUSTCACHE_LOG", lvl)
	}

	cfg, err := provision.NewConfig()
	if err != nil {
		return err
	}
	cfg.Channel = channel
	cfg.Profile = profile
	cfg.Proxy = proxy
	cfg.MdbookVersion = mdbookVersion
	cfg.CacheDir = cacheDir
	cfg.ClearCache = clearCache
	cfg.Command = args

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return provision.Run(ctx, cfg)
}

func defaultCacheDir() string {
	scope := gap.NewScope(gap.User, "rustcache")
	dir, err := scope.DataPath("cache")
	if err != nil {
		return filepath.Join(os.TempDir(), "rustcache-cache")
	}
	return dir
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.Flags().StringVarP(&channel, "channel", "c", "stable", "toolchain channel to install")
	rootCmd.Flags().StringVarP(&profile, "profile", "p", "minimal", "install profile: minimal, default, or complete")
	rootCmd.Flags().BoolVar(&proxy, "proxy", false, "route downloads through the configured mirror endpoints")
	rootCmd.Flags().StringVar(&mdbookVersion, "mdbook", "", "mdBook version to install (empty disables it)")
	rootCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "cache directory (default per-user data dir)")
	rootCmd.Flags().BoolVar(&clearCache, "clear-cache", false, "delete the cache directory before the run")

	// Config bindings
	_ = viper.BindPFlag("channel", rootCmd.Flags().Lookup("channel"))
	_ = viper.BindPFlag("profile", rootCmd.Flags().Lookup("profile"))
	_ = viper.BindPFlag("proxy", rootCmd.Flags().Lookup("proxy"))
	_ = viper.BindPFlag("mdbook", rootCmd.Flags().Lookup("mdbook"))
	_ = viper.BindPFlag("cache_dir", rootCmd.Flags().Lookup("cache-dir"))
	_ = viper.BindPFlag("clear_cache", rootCmd.Flags().Lookup("clear-cache"))

	viper.SetDefault("channel", "stable")
	viper.SetDefault("profile", "minimal")
	viper.SetDefault("proxy", false)
	viper.SetDefault("mdbook", "")

	rootCmd.AddCommand(configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "rustcache")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "rustcache")}, dirs...)
	}

	if c := os.Getenv("RUSTCACHE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("rustcache")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("rustcache")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "rustcache.yml")
	}
}
