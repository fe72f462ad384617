package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinlp/medspan/internal/storage"
)

var (
	s3Bucket  string
	s3Force   bool
	s3Timeout time.Duration
)

// s3Cmd represents the s3 command
var s3Cmd = &cobra.Command{
	Use:   "s3",
	Short: "Move files and models between the local disk and S3",
}

var s3UploadCmd = &cobra.Command{
	Use:   "upload <local-path> <key>",
	Short: "Upload a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFileManager(func(ctx context.Context, fm *storage.FileManager, bucket string) error {
			if err := fm.Upload(ctx, args[0], bucket, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "✓ Uploaded %s to s3://%s/%s\n", args[0], bucket, args[1])
			return nil
		})
	},
}

var s3DownloadCmd = &cobra.Command{
	Use:   "download <key> <local-path>",
	Short: "Download a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFileManager(func(ctx context.Context, fm *storage.FileManager, bucket string) error {
			if err := fm.Download(ctx, bucket, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "✓ Downloaded s3://%s/%s to %s\n", bucket, args[0], args[1])
			return nil
		})
	},
}

var s3DownloadModelCmd = &cobra.Command{
	Use:   "download-model <prefix> [local-dir]",
	Short: "Download every file of a model",
	Long: `Download all objects under prefix, keeping their layout. An existing
non-empty directory is left alone unless --force is given.

Example:
  medspan s3 download-model models/ner-clinical/ ./models/ner-clinical`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) == 2 {
			dir = args[1]
		}
		return withFileManager(func(ctx context.Context, fm *storage.FileManager, bucket string) error {
			path, err := fm.DownloadFolder(ctx, bucket, args[0], dir, s3Force)
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(s3Cmd)
	s3Cmd.AddCommand(s3UploadCmd)
	s3Cmd.AddCommand(s3DownloadCmd)
	s3Cmd.AddCommand(s3DownloadModelCmd)

	s3Cmd.PersistentFlags().StringVar(&s3Bucket, "bucket", "", "bucket name (default from config)")
	s3Cmd.PersistentFlags().DurationVar(&s3Timeout, "timeout", 30*time.Minute, "overall timeout")
	s3DownloadModelCmd.Flags().BoolVar(&s3Force, "force", false, "clear the local directory and download again")
}

func withFileManager(fn func(ctx context.Context, fm *storage.FileManager, bucket string) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	bucket := s3Bucket
	if bucket == "" {
		bucket = cfg.S3.Bucket
	}
	if bucket == "" {
		return fmt.Errorf("no bucket: set s3.bucket or pass --bucket")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s3Timeout)
	defer cancel()

	client, err := storage.NewS3Client(ctx, cfg.S3, s3HTTPClient(cfg.HTTP))
	if err != nil {
		return err
	}
	return fn(ctx, storage.NewFileManager(client, logger), bucket)
}
