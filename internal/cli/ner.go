package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinlp/medspan/internal/model"
	"github.com/clinlp/medspan/internal/pipeline"
	"github.com/clinlp/medspan/internal/visualize"
)

var (
	nerInput     inputFlags
	nerOut       string
	nerHTMLDir   string
	nerTasks     pipeline.Tasks
	nerTimeout   time.Duration
	deidInput    inputFlags
	deidOut      string
	deidHTMLDir  string
	deidHTMLMode string
	deidMask     bool
	deidFake     bool
)

// nerCmd represents the ner command
var nerCmd = &cobra.Command{
	Use:   "ner [text...]",
	Short: "Extract clinical entities from text",
	Long: `Run the NER pipeline: split sentences, classify tokens on the inference
gateway, align subwords back to the text and merge them into entity chunks.
Assertion and relation classification run when their models are configured.

Example:
  medspan ner "Patient denies chest pain."
  medspan ner --file note.txt --assertion --html ./html
  medspan ner --payload request.json --relation --out result.json`,
	RunE: runNER,
}

// deidCmd represents the deid command
var deidCmd = &cobra.Command{
	Use:   "deid [text...]",
	Short: "Mask or fake protected health information",
	Long: `Find PHI entities with the NER pipeline and replace them with label markers
(--mask) or with values drawn from the replacement pool (--fake).

Example:
  medspan deid --file note.txt
  medspan deid --fake --html ./html --html-mode pseudonymized "John Smith was seen today."`,
	RunE: runDeid,
}

func init() {
	rootCmd.AddCommand(nerCmd)
	rootCmd.AddCommand(deidCmd)

	nerCmd.Flags().StringVarP(&nerInput.file, "file", "f", "", "read one document from a file (- for stdin)")
	nerCmd.Flags().StringVar(&nerInput.payload, "payload", "", "read a task payload JSON file")
	nerCmd.Flags().StringVarP(&nerOut, "out", "o", "", "output JSON path (default: stdout)")
	nerCmd.Flags().StringVar(&nerHTMLDir, "html", "", "also render each document as HTML into this directory")
	nerCmd.Flags().BoolVar(&nerTasks.Assertion, "assertion", false, "classify entity assertions")
	nerCmd.Flags().BoolVar(&nerTasks.Relation, "relation", false, "classify entity relations")
	nerCmd.Flags().DurationVar(&nerTimeout, "timeout", 5*time.Minute, "overall timeout")

	deidCmd.Flags().StringVarP(&deidInput.file, "file", "f", "", "read one document from a file (- for stdin)")
	deidCmd.Flags().StringVar(&deidInput.payload, "payload", "", "read a task payload JSON file")
	deidCmd.Flags().StringVarP(&deidOut, "out", "o", "", "output JSON path (default: stdout)")
	deidCmd.Flags().StringVar(&deidHTMLDir, "html", "", "also render each document as HTML into this directory")
	deidCmd.Flags().StringVar(&deidHTMLMode, "html-mode", string(visualize.ModeAnonymized), "HTML view: phi_entities, anonymized or pseudonymized")
	deidCmd.Flags().BoolVar(&deidMask, "mask", false, "replace entities with label markers (default from config)")
	deidCmd.Flags().BoolVar(&deidFake, "fake", false, "replace entities with pool values (default from config)")
	deidCmd.Flags().DurationVar(&nerTimeout, "timeout", 5*time.Minute, "overall timeout")
}

func runNER(cmd *cobra.Command, args []string) error {
	docs, err := runDocuments(nerInput, nerTasks, args)
	if err != nil {
		return err
	}
	if err := writeOutput(nerOut, docs); err != nil {
		return err
	}
	if nerHTMLDir == "" {
		return nil
	}

	v := visualize.New(nil)
	return writeHTML(nerHTMLDir, docs, func(d *model.Document) (string, error) {
		if len(d.Assertions) > 0 {
			return v.Assertions(d.Text, d.Assertions, visualize.Options{})
		}
		return v.Entities(d.Text, d.Entities, visualize.Options{})
	})
}

func runDeid(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tasks := pipeline.Tasks{Mask: cfg.Deid.Mask, Fake: cfg.Deid.Fake}
	if cmd.Flags().Changed("mask") {
		tasks.Mask = deidMask
	}
	if cmd.Flags().Changed("fake") {
		tasks.Fake = deidFake
	}
	if !tasks.Mask && !tasks.Fake {
		return fmt.Errorf("nothing to do: enable --mask or --fake")
	}
	mode := visualize.DeidMode(deidHTMLMode)
	if mode == visualize.ModePseudonymized && !tasks.Fake {
		return fmt.Errorf("--html-mode pseudonymized needs --fake")
	}

	docs, err := runDocuments(deidInput, tasks, args)
	if err != nil {
		return err
	}
	if err := writeOutput(deidOut, docs); err != nil {
		return err
	}
	if deidHTMLDir == "" {
		return nil
	}

	v := visualize.New(nil)
	return writeHTML(deidHTMLDir, docs, func(d *model.Document) (string, error) {
		return v.Deid(d.Text, d.Entities, mode, visualize.Options{})
	})
}

// runDocuments builds the pipeline and runs every input document in order.
func runDocuments(in inputFlags, tasks pipeline.Tasks, args []string) ([]*model.Document, error) {
	cfg, logger, err := setup()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), nerTimeout)
	defer cancel()

	texts, err := in.texts(ctx, cfg, logger, args)
	if err != nil {
		return nil, err
	}
	p, err := pipeline.Build(cfg, tasks, logger)
	if err != nil {
		return nil, err
	}

	docs := make([]*model.Document, 0, len(texts))
	for i, text := range texts {
		doc, err := p.Run(ctx, pipeline.Request{ID: fmt.Sprintf("doc-%d", i+1), Text: text, Tasks: tasks})
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i+1, err)
		}
		docs = append(docs, doc)
	}
	logger.WithField("documents", len(docs)).Info("documents processed")
	return docs, nil
}

func writeHTML(dir string, docs []*model.Document, render func(*model.Document) (string, error)) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for _, d := range docs {
		page, err := render(d)
		if err != nil {
			return fmt.Errorf("render %s: %w", d.ID, err)
		}
		path := filepath.Join(dir, sanitizeFilename(d.ID)+".html")
		if err := os.WriteFile(path, []byte(page), 0644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Fprintf(os.Stderr, "✓ Wrote %s\n", path)
	}
	return nil
}
