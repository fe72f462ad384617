package deid

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnknownLabel is returned when the pool has no values for an entity label.
var ErrUnknownLabel = errors.New("no replacement values for label")

// Pool maps an entity label to the surrogate values that may replace it.
type Pool map[string][]string

// Pick draws one value for label uniformly at random, with replacement.
// A nil rng uses the package-level source.
func (p Pool) Pick(label string, rng *rand.Rand) (string, error) {
	values := p[label]
	if len(values) == 0 {
		return "", fmt.Errorf("%q: %w", label, ErrUnknownLabel)
	}
	if rng == nil {
		return values[rand.IntN(len(values))], nil
	}
	return values[rng.IntN(len(values))], nil
}

// Labels returns the labels that have at least one value.
func (p Pool) Labels() []string {
	labels := make([]string, 0, len(p))
	for l, v := range p {
		if len(v) > 0 {
			labels = append(labels, l)
		}
	}
	return labels
}

// LoadPool reads a replacement table. The first row names the labels and
// every following row holds one candidate per label; empty cells are
// skipped. CSV, TSV and XLSX files are supported.
func LoadPool(path string) (Pool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pool: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ParseCSVPool(bytes.NewReader(content), ',')
	case ".tsv":
		return ParseCSVPool(bytes.NewReader(content), '\t')
	case ".xlsx":
		return parseExcelPool(content)
	default:
		return nil, fmt.Errorf("unsupported pool file type: %s", path)
	}
}

// ParseCSVPool parses a delimited replacement table.
func ParseCSVPool(r io.Reader, comma rune) (Pool, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse pool: %w", err)
	}
	return poolFromRows(rows)
}

func parseExcelPool(content []byte) (Pool, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets in workbook")
	}

	skip := map[string]bool{"info": true, "metadata": true, "about": true, "readme": true, "notes": true}
	sheet := sheets[len(sheets)-1]
	for _, s := range sheets {
		if !skip[strings.ToLower(s)] {
			sheet = s
			break
		}
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return poolFromRows(rows)
}

func poolFromRows(rows [][]string) (Pool, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty pool table")
	}

	headers := rows[0]
	pool := make(Pool, len(headers))
	for _, h := range headers {
		if h = strings.TrimSpace(h); h != "" {
			pool[h] = nil
		}
	}

	for _, row := range rows[1:] {
		for i, cell := range row {
			if i >= len(headers) {
				break
			}
			label := strings.TrimSpace(headers[i])
			if label == "" || cell == "" {
				continue
			}
			pool[label] = append(pool[label], cell)
		}
	}

	return pool, nil
}
