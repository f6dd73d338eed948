package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/oss-stamp/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Reads and writes persisted settings (token, theme)",
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Prints a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		value := a.settings.Get(args[0], "")
		if args[0] == config.KeyToken {
			value = maskToken(value)
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Stores a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		if err := a.settings.Set(args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s saved to %s\n", args[0], a.settings.Path())
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Checks the configured token against the GitHub API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		if a.settings.Get(config.KeyToken, "") == "" {
			return fmt.Errorf("no token: set %s or run `config set %s <token>`", config.EnvToken, config.KeyToken)
		}
		info, err := a.gateway.ValidateToken(cmd.Context())
		if err != nil {
			return fmt.Errorf("token rejected: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "authenticated as %s (rate limit %d/h)\n", info.Login, info.RateLimit)
		return nil
	},
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGetCmd, configSetCmd, configValidateCmd)
}
