package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/John-Robertt/mihomoctl-go/internal/storage"
	"github.com/John-Robertt/mihomoctl-go/internal/template"
)

const appVersion = "0.3.0"

var (
	verbose bool
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:     "mihomoctl",
	Short:   "Mihomo subscription merge CLI",
	Version: appVersion,
	Long: `Generate Mihomo/Clash configuration files by combining a template
with one or more subscriptions.

Runtime directories live under ~/.config/mihomoctl and
~/.cache/mihomoctl. Run "mihomoctl merge --help" for the merge options
and their defaults.`,
	SilenceUsage: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		l, err := cfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the runtime directory layout and seed the default template",
	RunE: func(cmd *cobra.Command, _ []string) error {
		paths, err := storage.NewAppPaths()
		if err != nil {
			return err
		}
		if err := paths.EnsureRuntimeDirs(); err != nil {
			return err
		}
		if _, err := template.EnsureDefault(paths.DefaultTemplatePath()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(),
			"Initialized at: %s\n  - templates: %s\n  - resources: %s\n  - output: %s\n  - cache: %s\n",
			paths.ConfigDir(),
			paths.TemplatesDir(),
			paths.ResourcesDir(),
			filepath.Dir(paths.OutputConfigPath()),
			paths.CacheDir())
		return nil
	},
}

var testFlags struct {
	bin    string
	config string
	dir    string
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Validate the output config with mihomo -t",
	RunE: func(cmd *cobra.Command, _ []string) error {
		paths, err := storage.NewAppPaths()
		if err != nil {
			return err
		}
		configPath := testFlags.config
		if configPath == "" {
			configPath = paths.OutputConfigPath()
		}
		workdir := testFlags.dir
		if workdir == "" {
			workdir = paths.ConfigDir()
		}

		run := exec.CommandContext(cmd.Context(), testFlags.bin,
			"-d", workdir, "-f", configPath, "-m", "-t")
		run.Stdout = cmd.OutOrStdout()
		run.Stderr = cmd.ErrOrStderr()
		if err := run.Run(); err != nil {
			return fmt.Errorf("mihomo config test failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "mihomo config test passed: %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	testCmd.Flags().StringVar(&testFlags.bin, "mihomo-bin", "mihomo", "path to the mihomo binary")
	testCmd.Flags().StringVar(&testFlags.config, "config", "", "config file to test (defaults to the output config)")
	testCmd.Flags().StringVar(&testFlags.dir, "mihomo-dir", "", "working directory passed to mihomo via -d (defaults to the config dir)")

	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(manageCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
