package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/omnidex/omnidex/internal/model"
	"github.com/omnidex/omnidex/internal/provider"
)

func newProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Manage configured content providers",
	}

	cmd.AddCommand(
		newProvidersListCmd(),
		newProvidersAuthCmd(),
	)
	return cmd
}

func newProvidersListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured providers and their types",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cfg.Providers)
			}

			out := cmd.OutOrStdout()
			if len(cfg.Providers) == 0 {
				fmt.Fprintf(out, "no providers configured (supported types: %s)\n",
					strings.Join(provider.DefaultFactory().SupportedTypes(), ", "))
				return nil
			}
			for _, p := range cfg.Providers {
				state := "enabled"
				if !p.Enabled {
					state = "disabled"
				}
				fmt.Fprintf(out, "%-20s %-12s %s\n", p.ID, p.ProviderType, state)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newProvidersAuthCmd() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "auth <provider>",
		Short: "Authenticate a provider and store its credentials locally",
		Long: `Validate credentials against the provider and persist them in the
local credential store (never in the index or config file).

Example:
  omnidex providers auth github-main --token ghp_...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return fmt.Errorf("--token is required")
			}
			return runProvidersAuth(cmd.Context(), cmd, args[0], token)
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Access token for the provider")
	return cmd
}

func runProvidersAuth(ctx context.Context, cmd *cobra.Command, providerID, token string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close(ctx) }()

	auth, err := eng.AuthenticateProvider(ctx, providerID, model.Credentials{"token": token})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "provider %s: %s", providerID, auth.Status)
	if len(auth.Scopes) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), " (scopes: %s)", strings.Join(auth.Scopes, ", "))
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
