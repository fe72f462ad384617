package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/clinlp/medspan/internal/auth"
	"github.com/clinlp/medspan/internal/platform"
	"github.com/clinlp/medspan/internal/util"
	"github.com/clinlp/medspan/internal/worker"
)

var (
	platformTimeout time.Duration
	platformWait    bool
	platformOut     string
)

// platformCmd represents the platform command
var platformCmd = &cobra.Command{
	Use:   "platform",
	Short: "Run models on the hosted model platform",
	Long: `Call models hosted on the platform. Credentials come from auth.user_key and
auth.user_secret (or MEDSPAN_AUTH_USER_KEY / MEDSPAN_AUTH_USER_SECRET).`,
}

var platformRunCmd = &cobra.Command{
	Use:   "run <model-id> <payload.json>",
	Short: "Send a payload to a model",
	Long: `Send a JSON payload to a model and print the response.

With --wait the command first waits for the model's pod to be running and
reports progress on stderr.

Example:
  medspan platform run 42 request.json --wait`,
	Args: cobra.ExactArgs(2),
	RunE: runPlatformModel,
}

var platformStatusCmd = &cobra.Command{
	Use:   "status <model-id>",
	Short: "Show the state of a model's pod",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := modelID(args[0])
		if err != nil {
			return err
		}
		return withPlatform(func(ctx context.Context, c *platform.Client, _ logrus.FieldLogger) error {
			pl, err := c.PodLogResult(ctx, id)
			if err != nil {
				return err
			}
			if pl.Error != "" {
				fmt.Printf("error: %s\n", pl.Error)
				return nil
			}
			if pl.IsRunning() {
				fmt.Println("running")
				return nil
			}
			fmt.Printf("waiting: %s\n", pl.WaitingReason())
			return nil
		})
	},
}

var platformUploadCmd = &cobra.Command{
	Use:   "upload <model-id> <file>",
	Short: "Upload an input file for a model",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := modelID(args[0])
		if err != nil {
			return err
		}
		return withPlatform(func(ctx context.Context, c *platform.Client, _ logrus.FieldLogger) error {
			resp, err := c.FileUpload(ctx, id, args[1])
			if err != nil {
				return err
			}
			return printRaw(resp)
		})
	},
}

var platformDownloadCmd = &cobra.Command{
	Use:   "download <source> <target>",
	Short: "Download an output file produced by a model",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPlatform(func(ctx context.Context, c *platform.Client, _ logrus.FieldLogger) error {
			path, err := c.FileDownload(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "✓ Downloaded %s\n", path)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(platformCmd)
	platformCmd.AddCommand(platformRunCmd)
	platformCmd.AddCommand(platformStatusCmd)
	platformCmd.AddCommand(platformUploadCmd)
	platformCmd.AddCommand(platformDownloadCmd)

	platformCmd.PersistentFlags().DurationVar(&platformTimeout, "timeout", 15*time.Minute, "overall timeout")
	platformRunCmd.Flags().BoolVar(&platformWait, "wait", false, "wait for the model pod and report progress")
	platformRunCmd.Flags().StringVarP(&platformOut, "out", "o", "", "write the response to this path (default: stdout)")
}

func runPlatformModel(cmd *cobra.Command, args []string) error {
	id, err := modelID(args[0])
	if err != nil {
		return err
	}
	data, err := readSource(args[1])
	if err != nil {
		return err
	}
	var payload json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("payload is not JSON: %w", err)
	}

	return withPlatform(func(ctx context.Context, c *platform.Client, logger logrus.FieldLogger) error {
		var resp json.RawMessage
		if platformWait {
			resp, err = c.RunModelWithCallback(ctx, id, payload, func(e platform.Event) {
				logger.WithFields(logrus.Fields{"event": e.Name, "model": id}).Info(e.Message)
			})
		} else {
			resp, err = c.RunModel(ctx, id, payload)
		}
		if err != nil {
			return err
		}
		if platformOut != "" {
			if err := os.WriteFile(platformOut, resp, 0644); err != nil {
				return fmt.Errorf("write %s: %w", platformOut, err)
			}
			fmt.Fprintf(os.Stderr, "✓ Wrote %s\n", platformOut)
			return nil
		}
		return printRaw(resp)
	})
}

func withPlatform(fn func(ctx context.Context, c *platform.Client, logger logrus.FieldLogger) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), platformTimeout)
	defer cancel()

	httpClient := util.NewHTTPClient(cfg.HTTP)
	conn, err := auth.Connect(ctx, auth.Config{
		BaseURL:    cfg.Platform.BaseURL,
		UserKey:    cfg.Auth.UserKey,
		UserSecret: cfg.Auth.UserSecret,
		Scope:      cfg.Auth.Scope,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	c := platform.New(cfg.Platform.BaseURL, conn, platform.Options{
		HTTPClient:   httpClient,
		Limiter:      worker.NewLimiterFromConfig(cfg.RateLimiting),
		Logger:       logger,
		PollInterval: cfg.Platform.PollInterval,
	})
	return fn(ctx, c, logger)
}

func modelID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid model id %q", s)
	}
	return id, nil
}

func printRaw(data json.RawMessage) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
