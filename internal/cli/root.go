package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/moforw/albaum/internal/config"
	"github.com/moforw/albaum/internal/engine"
	"github.com/moforw/albaum/internal/index"
	"github.com/moforw/albaum/internal/logging"
	"github.com/moforw/albaum/internal/metrics"
	"github.com/moforw/albaum/internal/store"
)

var (
	cfgPath     string
	journalPath string
	backendName string
	logLevel    string
	serverURL   string
)

var rootCmd = &cobra.Command{
	Use:   "albaum",
	Short: "Fuzzy-searchable store for notes, todo items and settings",
	Long: "Albaum keeps short free-text facts in a journal and finds them again from " +
		"partial, reordered or incomplete fragments.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "config file (default ~/.albaum/config.yaml)")
	pf.StringVar(&journalPath, "journal", "", "journal path, overrides the config file")
	pf.StringVar(&backendName, "backend", "", "journal backend: file, sqlite or badger")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&serverURL, "server", "", "send add, search, rm and edit to a running server at this URL")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(compactCmd)
}

// resolveConfigPath returns the --config value or the default location.
func resolveConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	p, err := config.DefaultPath()
	if err != nil {
		return ""
	}
	return p
}

// loadConfig loads the config file and applies the global flags on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if journalPath != "" {
		cfg.Journal.Path = journalPath
	}
	if backendName != "" {
		cfg.Journal.Backend = backendName
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app is an opened journal with its index loaded and an engine on top.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	level   zap.AtomicLevel
	journal *store.Journal
	engine  *engine.Engine
	metrics *metrics.MetricsCollector
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log, level, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}

	j, err := store.OpenJournal(cfg.Journal.Backend, cfg.Journal.Path, store.WithLogger(log.Named("journal")))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	trie := index.New(index.WithLogger(log.Named("index")))
	if _, err := j.Load(ctx, trie); err != nil {
		j.Close()
		return nil, err
	}

	mc := metrics.NewCollector()
	e := engine.New(trie, engine.Options{
		Workers: cfg.Index.Workers,
		Logger:  log.Named("engine"),
		Metrics: mc,
	})

	return &app{cfg: cfg, log: log, level: level, journal: j, engine: e, metrics: mc}, nil
}

func (a *app) Close() error {
	a.engine.Close()
	err := a.journal.Close()
	_ = a.log.Sync()
	return err
}

// lookup finds the stored fact with exactly text.
func (a *app) lookup(text string) (*index.Fact, error) {
	f, err := a.engine.Lookup(text)
	if errors.Is(err, engine.ErrNotFound) {
		return nil, fmt.Errorf("no fact %q", text)
	}
	return f, err
}

func configFileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
