// Package main provides the entry point for the versecast CLI application.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	gap "github.com/muesli/go-app-paths"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/versecast/versecast/internal/audio"
	"github.com/versecast/versecast/internal/show"
	"github.com/versecast/versecast/internal/studio"
	"github.com/versecast/versecast/ui"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile    string
	serviceURL    string
	apiKey        string
	sceneGap      time.Duration
	fallbackDelay time.Duration
	width         uint
	startMuted    bool
	workers       int

	rootCmd = &cobra.Command{
		Use:   "versecast [POEM]",
		Short: "Present poems in the terminal, with ceremony!",
		Long: paragraph(
			fmt.Sprintf("\nPresent a poem scene by scene, %s, right in your terminal.", keyword("narrated and illustrated")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.MaximumNArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

// envConfig carries the debugging knobs read from the environment.
type envConfig struct {
	Debug   bool   `env:"VERSECAST_DEBUG"`
	LogFile string `env:"VERSECAST_LOGFILE"`
}

var (
	keywordStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"})
	paragraphStyle = lipgloss.NewStyle().
			Width(78).
			Padding(0, 0, 0, 2)
)

func keyword(s string) string   { return keywordStyle.Render(s) }
func paragraph(s string) string { return paragraphStyle.Render(s) }

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to stat stdin: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

// poemFromArgs reads the poem from a file argument, an explicit "-", or a
// pipe.
func poemFromArgs(args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		pipe, err := stdinIsPipe()
		if err != nil {
			return "", err
		}
		if !pipe && len(args) == 0 {
			return "", errors.New("missing poem: pass a file or pipe text in")
		}
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("unable to read from stdin: %w", err)
		}
		return string(b), nil
	}

	b, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("unable to open file: %w", err)
	}
	return string(b), nil
}

// stanzaDrafts splits the poem into scene drafts on blank lines. This is
// the offline path when no generation service is configured; such scenes
// carry no narration and advance on the timed fallback.
func stanzaDrafts(poem string) []studio.Draft {
	poem = strings.ReplaceAll(poem, "\r\n", "\n")
	var drafts []studio.Draft
	for _, stanza := range strings.Split(poem, "\n\n") {
		stanza = strings.TrimSpace(stanza)
		if stanza == "" {
			continue
		}
		drafts = append(drafts, studio.Draft{Text: stanza})
	}
	return drafts
}

func validateOptions(cmd *cobra.Command) error {
	serviceURL = viper.GetString("service_url")
	apiKey = viper.GetString("api_key")
	sceneGap = viper.GetDuration("scene_gap")
	fallbackDelay = viper.GetDuration("fallback_delay")
	workers = viper.GetInt("workers")
	startMuted = viper.GetBool("muted")
	width = viper.GetUint("width")

	if sceneGap < 0 {
		return fmt.Errorf("scene gap must not be negative, got %s", sceneGap)
	}
	if fallbackDelay <= 0 {
		return fmt.Errorf("fallback delay must be positive, got %s", fallbackDelay)
	}
	if workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", workers)
	}

	// Detect terminal width like a pager would.
	if width == 0 && !cmd.Flags().Changed("width") {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
				width = uint(w) //nolint:gosec
			}
		}
		if width > 120 {
			width = 120
		}
	}
	if width == 0 {
		width = 72
	}
	return nil
}

func execute(cmd *cobra.Command, args []string) error {
	poem, err := poemFromArgs(args)
	if err != nil {
		return err
	}
	if strings.TrimSpace(poem) == "" {
		return errors.New("the poem is empty")
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("versecast needs an interactive terminal")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var (
		producer *studio.Client
		drafts   []studio.Draft
	)
	if serviceURL != "" {
		producer = studio.NewClient(studio.ClientConfig{
			BaseURL: serviceURL,
			APIKey:  apiKey,
		})
		drafts, err = producer.AnalyzePoem(ctx, poem)
		if err != nil {
			log.Warn("poem analysis unavailable, splitting stanzas locally", "err", err)
			producer = nil
		}
	}
	if producer == nil {
		drafts = stanzaDrafts(poem)
	}
	if len(drafts) == 0 {
		return errors.New("the poem yielded no scenes")
	}

	deck := studio.BuildDeck(drafts)

	engineCfg := audio.DefaultConfig()
	engineCfg.FallbackDelay = fallbackDelay
	engine := audio.NewEngine(audio.NewOtoDevice(), engineCfg)
	defer engine.Close() //nolint:errcheck

	seq := show.New(engine, show.Config{SceneGap: sceneGap})
	seq.Initialize(deck)
	if startMuted {
		seq.ToggleMute()
	}
	defer seq.Close()

	// Asset generation runs in the background and attaches narration and
	// illustrations as they land; the show is usable immediately.
	if producer != nil {
		dispatcher := studio.NewDispatcher(producer, workers)
		if dir := narrationCacheDir(); dir != "" {
			if c, err := studio.NewAssetCache(dir); err != nil {
				log.Warn("narration cache unavailable", "dir", dir, "err", err)
			} else {
				dispatcher = dispatcher.WithCache(c)
			}
		}
		go dispatcher.Run(ctx, deck)
	}

	if _, err := ui.NewProgram(seq, deck, ui.Config{MaxWidth: int(width)}).Run(); err != nil { //nolint:gosec
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return nil
}

// narrationCacheDir resolves the on-disk narration cache location. An
// explicit cache_dir setting wins; otherwise the platform user cache is
// used. Empty means caching is disabled.
func narrationCacheDir() string {
	if dir := viper.GetString("cache_dir"); dir != "" {
		return dir
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "versecast", "narration")
}

func setupLog(cfg envConfig) (func() error, error) {
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec
		if err != nil {
			return nil, fmt.Errorf("unable to open log file: %w", err)
		}
		log.SetOutput(f)
		log.SetColorProfile(termenv.Ascii)
		return f.Close, nil
	}
	// Without a log file nothing would survive the alt screen anyway.
	log.SetOutput(io.Discard)
	return func() error { return nil }, nil
}

func main() {
	// A .env file is optional; ignore its absence.
	_ = godotenv.Load()

	cfg, err := env.ParseAs[envConfig]()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	closer, err := setupLog(cfg)
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
	rootCmd.Flags().StringVarP(&serviceURL, "service-url", "u", "", "base URL of the generation service (empty for offline stanza mode)")
	rootCmd.Flags().StringVar(&apiKey, "api-key", "", "bearer token for the generation service")
	rootCmd.Flags().DurationVarP(&sceneGap, "scene-gap", "g", 800*time.Millisecond, "pause between scenes after narration ends")
	rootCmd.Flags().DurationVar(&fallbackDelay, "fallback-delay", 3*time.Second, "scene length when narration is missing")
	rootCmd.Flags().UintVarP(&width, "width", "w", 0, "word-wrap at width (set to 0 to autodetect)")
	rootCmd.Flags().BoolVarP(&startMuted, "muted", "m", false, "start with the output device muted")
	rootCmd.Flags().IntVar(&workers, "workers", 4, "concurrent asset generation requests")
	_ = rootCmd.Flags().MarkHidden("workers")

	_ = viper.BindPFlag("service_url", rootCmd.Flags().Lookup("service-url"))
	_ = viper.BindPFlag("api_key", rootCmd.Flags().Lookup("api-key"))
	_ = viper.BindPFlag("scene_gap", rootCmd.Flags().Lookup("scene-gap"))
	_ = viper.BindPFlag("fallback_delay", rootCmd.Flags().Lookup("fallback-delay"))
	_ = viper.BindPFlag("width", rootCmd.Flags().Lookup("width"))
	_ = viper.BindPFlag("muted", rootCmd.Flags().Lookup("muted"))
	_ = viper.BindPFlag("workers", rootCmd.Flags().Lookup("workers"))

	viper.SetDefault("service_url", "")
	viper.SetDefault("scene_gap", "800ms")
	viper.SetDefault("fallback_delay", "3s")
	viper.SetDefault("width", 0)
	viper.SetDefault("muted", false)
	viper.SetDefault("workers", 4)
	viper.SetDefault("cache_dir", "")

	rootCmd.AddCommand(configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "versecast")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "versecast")}, dirs...)
	}
	if c := os.Getenv("VERSECAST_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("versecast")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("versecast")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		return
	}
	if len(dirs) > 0 {
		configFile = filepath.Join(dirs[0], "versecast.yml")
	}
}
