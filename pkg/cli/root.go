package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"unqork-logs/internal/app"
	"unqork-logs/internal/config"
	"unqork-logs/internal/domain"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = PrintJSON(os.Stdout, errorObject(err))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// errorObject is the JSON form of a command error.
func errorObject(err error) map[string]interface{} {
	errObj := map[string]interface{}{
		"error": err.Error(),
	}
	var (
		notFound  *domain.NotFoundError
		ambiguous *domain.AmbiguousIDError
		authErr   *domain.AuthError
		apiErr    *domain.APIError
		badRange  *domain.InvalidRangeError
		invalid   *domain.ValidationError
	)
	switch {
	case errors.As(err, &ambiguous):
		errObj["code"] = "ambiguous_id"
		errObj["candidates"] = ambiguous.Candidates
	case errors.As(err, &notFound):
		errObj["code"] = "not_found"
	case errors.As(err, &authErr):
		errObj["code"] = "auth_failed"
	case errors.As(err, &apiErr):
		errObj["code"] = "api_error"
		errObj["http_status"] = apiErr.StatusCode
	case errors.As(err, &badRange), errors.As(err, &invalid):
		errObj["code"] = "invalid_argument"
	}
	return errObj
}

// rootOptions holds the persistent flags and the settings resolved from
// them before any subcommand runs.
type rootOptions struct {
	baseURL string
	dataDir string
	output  string
	profile string
	envFile string
	verbose bool

	cfg    *config.Config
	logger *slog.Logger
	stderr io.Writer
	now    func() time.Time
}

// openApp opens the cache under the resolved data directory.
func (o *rootOptions) openApp() (*app.App, error) {
	return app.Open(o.cfg, o.logger)
}

// resolve loads the environment and the active profile and applies the
// precedence flag > env > profile > default.
func (o *rootOptions) resolve(cmd *cobra.Command) error {
	o.stderr = cmd.ErrOrStderr()
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return err
	}

	userCfg, err := LoadUserConfig()
	if err != nil {
		// Config file is optional
		userCfg = emptyUserConfig()
	}
	p := userCfg.ActiveProfile(o.profile)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if os.Getenv("UNQORK_BASE_URL") == "" && p.BaseURL != "" {
		if err := cfg.SetBaseURL(p.BaseURL); err != nil {
			return fmt.Errorf("profile base-url: %w", err)
		}
	}
	if cfg.ClientID == "" {
		cfg.ClientID = p.ClientID
	}
	if cfg.ClientSecret == "" {
		cfg.ClientSecret = p.ClientSecret
	}
	if os.Getenv("UNQORK_DATA_DIR") == "" && p.DataDir != "" {
		cfg.DataDir = p.DataDir
	}

	flags := cmd.Flags()
	if flags.Changed("base-url") {
		if err := cfg.SetBaseURL(o.baseURL); err != nil {
			return err
		}
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = o.dataDir
	}
	if !flags.Changed("output") {
		if v := os.Getenv("UNQORK_OUTPUT"); v != "" {
			o.output = v
		} else if p.Output != "" {
			o.output = p.Output
		}
	}
	if err := validateOutputFormat(o.output); err != nil {
		return err
	}

	switch {
	case o.verbose:
		cfg.LogLevel = "debug"
	case os.Getenv("LOG_LEVEL") == "":
		cfg.LogLevel = "warn"
	}
	o.cfg = cfg
	o.logger = slog.New(slog.NewTextHandler(o.stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	for _, w := range cfg.Warnings {
		o.logger.Warn("config", "warning", w)
	}
	return nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{stderr: os.Stderr, now: time.Now}

	rootCmd := &cobra.Command{
		Use:           "unqork-logs",
		Short:         "Fetch, cache and search Unqork audit logs",
		Long:          "Command-line interface for incrementally fetching Unqork audit logs into a local cache and querying them offline.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.resolve(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "", "Unqork tenant URL (https)")
	rootCmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Directory holding the cache database")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVarP(&opts.profile, "profile", "p", "", "Config profile to use")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newFetchCmd(opts))
	rootCmd.AddCommand(newListCmd(opts))
	rootCmd.AddCommand(newShowCmd(opts))
	rootCmd.AddCommand(newCacheCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	// Shell completions
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
