package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinlp/medspan/internal/gateway"
	"github.com/clinlp/medspan/internal/graph"
	"github.com/clinlp/medspan/internal/model"
)

var (
	graphTimeout time.Duration
	graphDryRun  bool
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Load relation results into Neo4j",
}

var graphWriteCmd = &cobra.Command{
	Use:   "write <result.json>",
	Short: "Write classified relations as graph edges",
	Long: `Read relation results and MERGE one edge per relation between the two entity
nodes. The input is either a relation model output (a list of relation lists
per document) or the output of 'medspan ner --relation'.

Example:
  medspan ner --file note.txt --relation -o result.json
  medspan graph write result.json
  medspan graph write result.json --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runGraphWrite,
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.AddCommand(graphWriteCmd)

	graphWriteCmd.Flags().DurationVar(&graphTimeout, "timeout", 5*time.Minute, "overall timeout")
	graphWriteCmd.Flags().BoolVar(&graphDryRun, "dry-run", false, "print the queries instead of running them")
}

func runGraphWrite(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	data, err := readSource(args[0])
	if err != nil {
		return err
	}
	queries, err := relationQueries(data)
	if err != nil {
		return err
	}

	if graphDryRun {
		enc := json.NewEncoder(os.Stdout)
		for _, q := range queries {
			if err := enc.Encode(q); err != nil {
				return err
			}
		}
		return nil
	}

	w, err := graph.NewWriter(cfg.Neo4j, logger)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), graphTimeout)
	defer cancel()
	if err := w.Write(ctx, queries); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "✓ Wrote %d relations\n", len(queries))
	return nil
}

// relationQueries accepts a relation model output or a list of pipeline
// documents.
func relationQueries(data []byte) ([]graph.Query, error) {
	queries, err := graph.QueriesFromOutput(bytes.NewReader(data))
	if err == nil {
		return queries, nil
	}

	var out gateway.Output
	if jerr := json.Unmarshal(data, &out); jerr != nil {
		return nil, err
	}
	var docs []model.Document
	if derr := out.Result(&docs); derr != nil {
		return nil, err
	}
	var records []model.RelationRecord
	for _, d := range docs {
		records = append(records, d.Relations...)
	}
	return graph.RelationQueries(records)
}
