package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/speccheck/speccheck/internal/checker"
	"github.com/speccheck/speccheck/internal/gitrepo"
	"github.com/speccheck/speccheck/internal/judge"
	"github.com/speccheck/speccheck/internal/output"
	"github.com/speccheck/speccheck/internal/store"
	"github.com/speccheck/speccheck/internal/workspace"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui      *output.UI
	archive store.Store

	verbose bool

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "speccheck",
	Short: "Spec compliance checker - judge repositories against their specifications",
	Long: `speccheck clones a repository, extracts requirements from its specification
documents, judges each requirement against the code structure using a
reasoning backend, and produces a severity-ranked compliance report.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/speccheck/config.yaml)")
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		configDir := filepath.Join(home, ".config", "speccheck")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SPECCHECK")
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	defaultDir := filepath.Join(home, ".config", "speccheck")

	viper.SetDefault("db_path", filepath.Join(defaultDir, "speccheck.db"))

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.api_key", "")

	viper.SetDefault("workspace.root", filepath.Join(defaultDir, "workspaces"))
	viper.SetDefault("workspace.max_count", 10)
	viper.SetDefault("workspace.max_disk_mb", 2048)
	viper.SetDefault("workspace.ttl", time.Hour)

	viper.SetDefault("checker.max_concurrent", 2)
	viper.SetDefault("checker.judge_parallelism", 2)
	viper.SetDefault("checker.sweep_interval", 10*time.Minute)

	viper.SetDefault("git.token", "")
	viper.SetDefault("git.results_repo", "")
	viper.SetDefault("git.clone_timeout", 5*time.Minute)
	viper.SetDefault("git.push_timeout", time.Minute)
	viper.SetDefault("git.user_name", "Spec Checker Bot")
	viper.SetDefault("git.user_email", "spec-checker@example.com")

	viper.SetDefault("judge.backend", "ollama")
	viper.SetDefault("judge.timeout", 30*time.Second)
	viper.SetDefault("judge.max_context_kb", 24)
	viper.SetDefault("judge.ollama.host", "http://localhost:11434")
	viper.SetDefault("judge.ollama.model", "codellama:7b-instruct")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-sonnet-4-20250514")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// getArchive returns the shared terminal-check archive, opening it on first
// call so config/version commands run without a db.
func getArchive() (store.Store, error) {
	if archive != nil {
		return archive, nil
	}

	s, err := store.NewSQLiteStore(viper.GetString("db_path"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	archive = s
	return archive, nil
}

// buildBackend selects the reasoning backend from config.
func buildBackend() (judge.Backend, error) {
	switch viper.GetString("judge.backend") {
	case "ollama":
		return judge.NewOllamaBackend(judge.OllamaConfig{
			Host:    viper.GetString("judge.ollama.host"),
			Model:   viper.GetString("judge.ollama.model"),
			Timeout: viper.GetDuration("judge.timeout"),
		}), nil
	case "anthropic":
		key := viper.GetString("anthropic.api_key")
		if key == "" {
			return nil, fmt.Errorf("judge.backend is anthropic but anthropic.api_key is not set")
		}
		return judge.NewAnthropicBackend(key, viper.GetString("anthropic.model")), nil
	default:
		return nil, fmt.Errorf("unknown judge.backend %q (want ollama or anthropic)", viper.GetString("judge.backend"))
	}
}

// buildOrchestrator wires the full pipeline from configuration.
func buildOrchestrator() (*checker.Orchestrator, error) {
	wsm, err := workspace.NewManager(workspace.Config{
		Root:          viper.GetString("workspace.root"),
		MaxWorkspaces: viper.GetInt("workspace.max_count"),
		MaxDiskBytes:  viper.GetInt64("workspace.max_disk_mb") * 1024 * 1024,
		TTL:           viper.GetDuration("workspace.ttl"),
	}, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("workspace manager: %w", err)
	}

	fetcher := gitrepo.NewCLIFetcher(gitrepo.Config{
		CloneTimeout: viper.GetDuration("git.clone_timeout"),
		PushTimeout:  viper.GetDuration("git.push_timeout"),
		UserName:     viper.GetString("git.user_name"),
		UserEmail:    viper.GetString("git.user_email"),
	}, wsm, slog.Default())

	backend, err := buildBackend()
	if err != nil {
		return nil, err
	}
	judgeClient := judge.NewClient(backend, judge.Config{
		MaxContextBytes: viper.GetInt("judge.max_context_kb") * 1024,
	}, slog.Default())

	st, err := getArchive()
	if err != nil {
		return nil, err
	}

	return checker.New(checker.Config{
		MaxConcurrentChecks: viper.GetInt("checker.max_concurrent"),
		JudgeParallelism:    viper.GetInt("checker.judge_parallelism"),
		ResultsRepoURL:      viper.GetString("git.results_repo"),
		GitToken:            viper.GetString("git.token"),
		SweepInterval:       viper.GetDuration("checker.sweep_interval"),
	}, wsm, fetcher, judgeClient, st, slog.Default()), nil
}
