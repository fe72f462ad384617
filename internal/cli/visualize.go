package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clinlp/medspan/internal/gateway"
	"github.com/clinlp/medspan/internal/model"
	"github.com/clinlp/medspan/internal/visualize"
)

var (
	vizKind     string
	vizMode     string
	vizDir      string
	vizShort    bool
	vizShowSize int
)

// codedDocument is one medical coding result.
type codedDocument struct {
	ID       string              `json:"id,omitempty"`
	Text     string              `json:"text"`
	Entities []model.CodedEntity `json:"entities"`
}

// visualizeCmd represents the visualize command
var visualizeCmd = &cobra.Command{
	Use:   "visualize <result.json>",
	Short: "Render saved results as HTML",
	Long: `Render the output of ner, deid or a medical coding model as HTML fragments,
one file per document.

Kinds:
  entities    NER chunks with their labels
  deid        PHI view; --mode phi_entities, anonymized or pseudonymized
  assertion   entities with their assertion status
  coding      coded entities with code and description

Example:
  medspan ner --file note.txt --assertion -o result.json
  medspan visualize result.json --kind assertion --dir ./html`,
	Args: cobra.ExactArgs(1),
	RunE: runVisualize,
}

func init() {
	rootCmd.AddCommand(visualizeCmd)

	visualizeCmd.Flags().StringVar(&vizKind, "kind", "entities", "view: entities, deid, assertion or coding")
	visualizeCmd.Flags().StringVar(&vizMode, "mode", string(visualize.ModePHIEntities), "deid view mode")
	visualizeCmd.Flags().StringVar(&vizDir, "dir", "./medspan-html", "output directory")
	visualizeCmd.Flags().BoolVar(&vizShort, "short", false, "truncate long documents")
	visualizeCmd.Flags().IntVar(&vizShowSize, "show-size", 1000, "characters kept with --short")
}

func runVisualize(cmd *cobra.Command, args []string) error {
	data, err := readSource(args[0])
	if err != nil {
		return err
	}
	var out gateway.Output
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decode %s: %w", args[0], err)
	}

	opts := visualize.Options{Short: vizShort, ShowSize: vizShowSize}
	v := visualize.New(nil)

	if vizKind == "coding" {
		var coded []codedDocument
		if err := out.Result(&coded); err != nil {
			return err
		}
		docs := make([]*model.Document, len(coded))
		byID := make(map[string]codedDocument, len(coded))
		for i, c := range coded {
			if c.ID == "" {
				c.ID = fmt.Sprintf("doc-%d", i+1)
			}
			byID[c.ID] = c
			docs[i] = &model.Document{ID: c.ID, Text: c.Text}
		}
		return writeHTML(vizDir, docs, func(d *model.Document) (string, error) {
			return v.MedicalCoding(d.Text, byID[d.ID].Entities, opts)
		})
	}

	var docs []*model.Document
	if err := out.Result(&docs); err != nil {
		return err
	}
	for i, d := range docs {
		if d.ID == "" {
			d.ID = fmt.Sprintf("doc-%d", i+1)
		}
	}

	var render func(*model.Document) (string, error)
	switch vizKind {
	case "entities":
		render = func(d *model.Document) (string, error) { return v.Entities(d.Text, d.Entities, opts) }
	case "deid":
		mode := visualize.DeidMode(vizMode)
		render = func(d *model.Document) (string, error) { return v.Deid(d.Text, d.Entities, mode, opts) }
	case "assertion":
		render = func(d *model.Document) (string, error) { return v.Assertions(d.Text, d.Assertions, opts) }
	default:
		return fmt.Errorf("unknown kind %q", vizKind)
	}
	return writeHTML(vizDir, docs, render)
}
