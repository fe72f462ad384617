package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinlp/medspan/internal/cache"
	"github.com/clinlp/medspan/internal/license"
	"github.com/clinlp/medspan/internal/util"
)

var licenseTimeout time.Duration

// licenseCmd represents the license command
var licenseCmd = &cobra.Command{
	Use:   "license",
	Short: "Talk to the license manager",
}

var licenseHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the license manager is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLicenseManager(func(ctx context.Context, m *license.Manager) error {
			if err := m.HealthCheck(ctx); err != nil {
				return err
			}
			fmt.Println("✓ license manager is up")
			return nil
		})
	},
}

var licenseKeyCmd = &cobra.Command{
	Use:   "key <model-name>",
	Short: "Print a model's public key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLicenseManager(func(ctx context.Context, m *license.Manager) error {
			pem, err := m.GetOrFetch(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Print(pem)
			return nil
		})
	},
}

var licenseValidateCmd = &cobra.Command{
	Use:   "validate <token>",
	Short: "Validate an access token and print its claims",
	Long: `Validate an RS256 access token against the public key of the model named in
its model_name claim. Pass - to read the token from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]
		if token == "-" {
			data, err := readSource("-")
			if err != nil {
				return err
			}
			token = string(data)
		}
		return withLicenseManager(func(ctx context.Context, m *license.Manager) error {
			claims, err := m.ValidateToken(ctx, token)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(claims)
		})
	},
}

func init() {
	rootCmd.AddCommand(licenseCmd)
	licenseCmd.AddCommand(licenseHealthCmd)
	licenseCmd.AddCommand(licenseKeyCmd)
	licenseCmd.AddCommand(licenseValidateCmd)

	licenseCmd.PersistentFlags().DurationVar(&licenseTimeout, "timeout", 2*time.Minute, "overall timeout")
}

func withLicenseManager(fn func(ctx context.Context, m *license.Manager) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	var c cache.Cache
	if cfg.Cache.Enabled {
		c = cache.New(cfg.Cache)
	}
	m, err := license.NewManager(cfg.License, c, license.Options{
		HTTPClient: util.NewHTTPClient(cfg.HTTP),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), licenseTimeout)
	defer cancel()
	return fn(ctx, m)
}
