package cli

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"unqork-logs/internal/config"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration profiles",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigCheckCmd(opts))
	cmd.AddCommand(newConfigSetProfileCmd())
	cmd.AddCommand(newConfigUseProfileCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display configured profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "No configuration found at %s\n", ConfigPath())
				return err
			}
			if !reveal {
				cfg = maskConfig(cfg)
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, cfg)
			}

			names := make([]string, 0, len(cfg.Profiles))
			for name := range cfg.Profiles {
				names = append(names, name)
			}
			sort.Strings(names)
			rows := make([][]string, 0, len(names))
			for _, name := range names {
				p := cfg.Profiles[name]
				active := ""
				if name == cfg.CurrentProfile {
					active = "*"
				}
				rows = append(rows, []string{
					name, active, orDash(p.BaseURL), orDash(p.ClientID),
					orDash(p.ClientSecret), orDash(p.DataDir), orDash(p.Output),
				})
			}
			return PrintTable(os.Stdout,
				[]string{"profile", "active", "base url", "client id", "client secret", "data dir", "output"}, rows)
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show sensitive values unmasked")

	return cmd
}

// maskConfig returns a copy of the config with sensitive fields masked.
func maskConfig(cfg *UserConfig) *UserConfig {
	masked := &UserConfig{
		CurrentProfile: cfg.CurrentProfile,
		Profiles:       make(map[string]Profile, len(cfg.Profiles)),
	}
	for name, p := range cfg.Profiles {
		p.ClientSecret = maskSecret(p.ClientSecret)
		masked.Profiles[name] = p
	}
	return masked
}

// maskSecret masks a sensitive string, showing first 4 and last 4 chars.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 10 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// newConfigCheckCmd prints the effective settings after flags, environment
// and profile have been applied.
func newConfigCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Show the effective settings and whether fetch can run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			credErr := cfg.ValidateCredentials()
			ready := credErr == nil

			if getOutputFormat(cmd) == "json" {
				out := map[string]interface{}{
					"base_url":                 cfg.BaseURL,
					"client_id":                cfg.ClientID,
					"client_secret":            maskSecret(cfg.ClientSecret),
					"data_dir":                 cfg.DataDir,
					"verify_ssl":               cfg.VerifySSL,
					"max_concurrent_downloads": cfg.MaxConcurrentDownloads,
					"token_refresh_buffer":     cfg.TokenRefreshBuffer.String(),
					"malformed_tolerance":      cfg.MalformedTolerance,
					"download_retries":         cfg.DownloadRetries,
					"requests_per_second":      cfg.RequestsPerSecond,
					"http_timeout":             cfg.HTTPTimeout.String(),
					"fetch_ready":              ready,
					"warnings":                 cfg.Warnings,
				}
				if credErr != nil {
					out["error"] = credErr.Error()
				}
				return PrintJSON(os.Stdout, out)
			}

			rows := [][]string{
				{"base url", orDash(cfg.BaseURL)},
				{"token url", tokenURLOrDash(cfg)},
				{"client id", orDash(cfg.ClientID)},
				{"client secret", orDash(maskSecret(cfg.ClientSecret))},
				{"data dir", cfg.DataDir},
				{"verify ssl", strconv.FormatBool(cfg.VerifySSL)},
				{"max concurrent downloads", strconv.Itoa(cfg.MaxConcurrentDownloads)},
				{"token refresh buffer", cfg.TokenRefreshBuffer.String()},
				{"malformed tolerance", strconv.FormatFloat(cfg.MalformedTolerance, 'g', -1, 64)},
				{"download retries", strconv.Itoa(cfg.DownloadRetries)},
				{"requests per second", strconv.FormatFloat(cfg.RequestsPerSecond, 'g', -1, 64)},
				{"http timeout", cfg.HTTPTimeout.String()},
				{"fetch ready", strconv.FormatBool(ready)},
			}
			if err := PrintTable(os.Stdout, []string{"setting", "value"}, rows); err != nil {
				return err
			}
			if credErr != nil {
				_, _ = fmt.Fprintln(opts.stderr, credErr.Error())
			}
			return nil
		},
	}
}

func tokenURLOrDash(cfg *config.Config) string {
	if cfg.BaseURL == "" {
		return "-"
	}
	return cfg.TokenURL()
}

func newConfigSetProfileCmd() *cobra.Command {
	var (
		name         string
		baseURL      string
		clientID     string
		clientSecret string
		dataDir      string
		output       string
	)

	cmd := &cobra.Command{
		Use:   "set-profile",
		Short: "Create or update a configuration profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			flags := cmd.Flags()
			if flags.Changed("default-output") {
				if err := validateOutputFormat(output); err != nil {
					return err
				}
			}

			cfg, err := LoadUserConfig()
			if err != nil {
				cfg = emptyUserConfig()
			}

			p := cfg.Profiles[name]
			if flags.Changed("url") {
				check := &config.Config{}
				if err := check.SetBaseURL(baseURL); err != nil {
					return err
				}
				p.BaseURL = check.BaseURL
			}
			if flags.Changed("client-id") {
				p.ClientID = clientID
			}
			if flags.Changed("client-secret") {
				p.ClientSecret = clientSecret
			}
			if flags.Changed("cache-dir") {
				p.DataDir = dataDir
			}
			if flags.Changed("default-output") {
				p.Output = output
			}
			cfg.Profiles[name] = p

			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, map[string]string{
					"status":  "ok",
					"profile": name,
					"path":    ConfigPath(),
				})
			}
			_, _ = fmt.Fprintf(os.Stdout, "Profile %q saved to %s\n", name, ConfigPath())
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Profile name (required)")
	cmd.Flags().StringVar(&baseURL, "url", "", "Unqork tenant URL (https)")
	cmd.Flags().StringVar(&clientID, "client-id", "", "API client ID")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "API client secret")
	cmd.Flags().StringVar(&dataDir, "cache-dir", "", "Directory holding the cache database")
	cmd.Flags().StringVar(&output, "default-output", "", "Default output format")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newConfigUseProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use-profile <name>",
		Short: "Set the active configuration profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				return fmt.Errorf("no config found: %w", err)
			}
			name := args[0]
			if _, ok := cfg.Profiles[name]; !ok {
				return fmt.Errorf("profile %q not found", name)
			}
			cfg.CurrentProfile = name
			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, map[string]string{
					"status":         "ok",
					"active_profile": name,
				})
			}
			_, _ = fmt.Fprintf(os.Stdout, "Active profile set to %q\n", name)
			return nil
		},
	}
}
