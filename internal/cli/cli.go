// Package cli implements the dragonfly command line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/colorutil"
	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/config"
	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/rules"
	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/scanner"
	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/server"
)

const version = "1.0.0"

var (
	configPath string
	rulePath   string
	listenAddr string
	jsonOutput bool
	noColor    bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "dragonfly",
	Short: "Dragonfly - malware detection for PyPI packages",
	Long: `Dragonfly - malware detection for PyPI packages

Dragonfly resolves a package release on PyPI, downloads its distribution
within size and time bounds, safely extracts it into an ephemeral
workspace, and evaluates a compiled set of detection rules against every
extracted file.

Quick Start:
  dragonfly scan requests              Scan the latest release of a package
  dragonfly scan requests@2.31.0       Scan a specific version
  dragonfly serve                      Run the scan API server
  dragonfly rules                      List the compiled detection rules`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			colorutil.ApplyNoColor()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dragonfly v%s\n", version)
		fmt.Printf("server commit: %s\n", serverCommit())
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan <package>[@version]",
	Short: "Scan one package release for malware",
	Long: `Scan one package release for malware.

Resolves the package on PyPI (preferring the source distribution over a
wheel), downloads and extracts it, and reports every detection rule that
matched, with the offending file paths and match offsets.

Omitting the version scans the newest release.

Examples:
  dragonfly scan requests                 Scan the latest release
  dragonfly scan requests@2.31.0          Scan a specific version
  dragonfly scan requests --json          Machine-readable output
  dragonfly scan requests --rules ./rules Use a custom rule directory`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd, args[0])
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scan API server",
	Long: `Run the HTTP API server.

Endpoints:
  POST /check           Scan a package: {"package_name": ..., "package_version": ...}
  POST /update-rules    Recompile and atomically swap in the rule set
  GET  /                Server metadata (version, commit, rules version)

In-flight scans always finish with the rule set they started with; a
reload only affects scans that start afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List and validate the compiled detection rules",
	Long: `Compile the configured rule sources and list the resulting rules.

Exits non-zero if any rule fails to compile, which makes this command
usable as a pre-deploy check for rule repositories.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRules(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&rulePath, "rules", "", "rule file or directory (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	scanCmd.Flags().BoolVar(&jsonOutput, "json", false, "output the verdict as JSON")
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "listen address (overrides config)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rulesCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func serverCommit() string {
	if sha := os.Getenv("GIT_SHA"); sha != "" {
		return sha
	}
	return "development"
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// buildProvider compiles the initial rule set. Rule sources come from the
// --rules flag, then the config file, then the embedded defaults.
func buildProvider(cfg *config.Config) (*rules.Provider, error) {
	path := rulePath
	if path == "" {
		path = cfg.RulePath
	}
	if path == "" {
		return rules.NewProvider(func() (*rules.RuleSet, error) {
			return rules.LoadDefaultRules(), nil
		})
	}
	return rules.NewProvider(func() (*rules.RuleSet, error) {
		return rules.LoadRulesFromPath(path)
	})
}

func runScan(cmd *cobra.Command, arg string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	name, ver, _ := strings.Cut(arg, "@")
	log := newLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc := scanner.New(cfg, provider, log)
	verdict, err := sc.Scan(ctx, scanner.PackageReference{Name: name, Version: ver})
	if err != nil {
		return err
	}

	if jsonOutput {
		outputJSON(verdict)
	} else {
		printVerdict(verdict)
	}

	if verdict.Status == scanner.StatusError {
		return fmt.Errorf("scan failed: %s", verdict.Reason)
	}
	return nil
}

func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	addr := listenAddr
	if addr == "" {
		addr = cfg.ListenAddr
	}

	log := newLogger()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc := scanner.New(cfg, provider, log)
	srv := server.New(sc, provider, version, serverCommit(), log)

	log.Info("starting dragonfly",
		"version", version,
		"commit", serverCommit(),
		"rules", provider.Current().Len(),
	)
	return srv.ListenAndServe(ctx, addr)
}

func runRules(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	rs := provider.Current()
	if rs.Version != "" {
		fmt.Printf("rule set version %s, %d rules\n\n", rs.Version, rs.Len())
	} else {
		fmt.Printf("%d rules\n\n", rs.Len())
	}
	for _, rule := range rs.Rules {
		fmt.Printf("  %-32s %-8s weight=%-4d %s\n",
			rule.ID,
			colorutil.ColorizeSeverity(string(rule.Severity)),
			rule.Weight,
			rule.Name,
		)
	}
	return nil
}
