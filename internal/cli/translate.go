package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/clinlp/medspan/internal/cache"
	"github.com/clinlp/medspan/internal/llm"
	"github.com/clinlp/medspan/internal/translate"
)

var (
	trInput    inputFlags
	trOut      string
	trSource   string
	trTarget   string
	trProvider string
	trModel    string
	trNoCache  bool
	trTimeout  time.Duration
)

// translateCmd represents the translate command
var translateCmd = &cobra.Command{
	Use:   "translate [text...]",
	Short: "Translate clinical text",
	Long: `Translate documents sentence group by sentence group through an LLM
provider (openai, anthropic or ollama). Paragraph breaks are kept and URLs
and e-mail addresses are never sent to the model.

Example:
  medspan translate --source de --target en "Der Patient hat Fieber."
  medspan translate --file note.txt --source en --target fr --provider ollama --model llama3.1`,
	RunE: runTranslate,
}

func init() {
	rootCmd.AddCommand(translateCmd)

	translateCmd.Flags().StringVarP(&trInput.file, "file", "f", "", "read one document from a file (- for stdin)")
	translateCmd.Flags().StringVar(&trInput.payload, "payload", "", "read a task payload JSON file")
	translateCmd.Flags().StringVarP(&trOut, "out", "o", "", "output JSON path (default: stdout)")
	translateCmd.Flags().StringVar(&trSource, "source", "en", "source language code")
	translateCmd.Flags().StringVar(&trTarget, "target", "", "target language code (default from config)")
	translateCmd.Flags().StringVar(&trProvider, "provider", "", "LLM provider: openai, anthropic, ollama (default from config)")
	translateCmd.Flags().StringVar(&trModel, "model", "", "LLM model name (default from config)")
	translateCmd.Flags().BoolVar(&trNoCache, "no-cache", false, "disable the translation cache")
	translateCmd.Flags().DurationVar(&trTimeout, "timeout", 10*time.Minute, "overall timeout")
}

func runTranslate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if trProvider != "" {
		cfg.Translate.Provider = trProvider
	}
	if trModel != "" {
		cfg.Translate.Model = trModel
	}
	if trTarget == "" {
		trTarget = cfg.Translate.Target
	}

	ctx, cancel := context.WithTimeout(context.Background(), trTimeout)
	defer cancel()

	texts, err := trInput.texts(ctx, cfg, logger, args)
	if err != nil {
		return err
	}

	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.Translate, cfg.HTTP))
	if err != nil {
		return err
	}

	opts := translate.Options{
		MaxWords: cfg.Translate.MaxWords,
		Model:    cfg.Translate.Model,
		Logger:   logger,
	}
	if !trNoCache && cfg.Cache.Enabled {
		opts.Cache = cache.New(cfg.Cache)
		opts.CacheTTL = cfg.Cache.DiskTTL
	}

	logger.WithFields(logrus.Fields{
		"provider": provider.Name(),
		"model":    cfg.Translate.Model,
		"source":   trSource,
		"target":   trTarget,
	}).Info("translating")

	res, err := translate.New(provider, opts).Translate(ctx, texts, trSource, trTarget)
	if err != nil {
		return fmt.Errorf("translate: %w", err)
	}
	return writeOutput(trOut, res)
}
