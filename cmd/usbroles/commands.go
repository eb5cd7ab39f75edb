package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/usbroles/internal/auth"
	"github.com/nerrad567/usbroles/internal/infrastructure/config"
	"github.com/nerrad567/usbroles/internal/monitor"
	"github.com/nerrad567/usbroles/internal/usb"
)

// defaultConfigPath is used when neither --config nor USBROLES_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

// rootOptions holds flags shared by every command.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "usbroles",
		Short: "Bind stable roles to attached USB devices",
		Long: `usbroles keeps a live inventory of attached USB devices and binds
operator-defined roles (e.g. top_camera) to them by vendor/product id,
serial number and physical port.

Without a subcommand it runs the daemon, like "usbroles serve".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), resolveConfigPath(opts.configPath))
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"path to the config file (default $USBROLES_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(
		newServeCmd(opts),
		newScanCmd(opts),
		newRulesCmd(opts),
		newTokenCmd(opts),
		newMigrateCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon (poll scanner, hotplug listener, HTTP API)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), resolveConfigPath(opts.configPath))
		},
	}
}

func newScanCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan once and print attached devices with their roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolveConfigPath(opts.configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			rules, err := usb.LoadRules(cfg.Rules.Path)
			if err != nil {
				return fmt.Errorf("loading rules: %w", err)
			}

			devices, err := monitor.NewSysfs(cfg.Monitor.SysfsRoot).ScanNow(cmd.Context())
			if err != nil {
				return fmt.Errorf("scanning devices: %w", err)
			}

			views := usb.Match(devices, rules)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), views)
			}
			return writeViewTable(cmd.OutOrStdout(), views)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newRulesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Print the persisted rule set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolveConfigPath(opts.configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			rules, err := usb.LoadRules(cfg.Rules.Path)
			if err != nil {
				return fmt.Errorf("loading rules: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), rules)
		},
	}
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		Long: `Mint an HS256 token signed with security.jwt.secret.

Roles: viewer (read only), operator (may replace rules), admin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolveConfigPath(opts.configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if ttl == 0 {
				ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
			}

			token, err := auth.GenerateToken(cfg.Security.JWT.Secret, subject, auth.Role(role), ttl)
			if err != nil {
				if errors.Is(err, auth.ErrEmptySecret) {
					return fmt.Errorf("security.jwt.secret is not configured: %w", err)
				}
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "token subject, e.g. the client's name")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "token role: viewer, operator or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default security.jwt.access_token_ttl minutes)")
	//nolint:errcheck // flag is defined above
	cmd.MarkFlagRequired("subject")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "usbroles %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// resolveConfigPath returns the config file to load: the flag, then
// USBROLES_CONFIG, then the default path. A missing default file yields ""
// so the built-in defaults apply; an explicitly named file must exist.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("USBROLES_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err != nil {
		return ""
	}
	return defaultConfigPath
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeViewTable(w io.Writer, views []usb.DeviceView) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROLE\tVID\tPID\tSERIAL\tPORT\tPATH")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			deref(v.Role, "-"), v.VID, v.PID, deref(v.Serial, "-"), v.PortPath, v.SystemPath)
	}
	return tw.Flush()
}

func deref(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
