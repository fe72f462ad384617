package gateway

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// ModelConfig is the part of a Hugging Face config.json the client needs.
type ModelConfig struct {
	ID2Label map[string]string `json:"id2label"`
	Labels   []string          `json:"labels,omitempty"`
}

// LoadID2Label reads the class index to label mapping from a model's
// config.json. A plain "labels" list is accepted when id2label is absent.
func LoadID2Label(path string) (map[int]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model config: %w", err)
	}
	var cfg ModelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse model config: %w", err)
	}

	out := make(map[int]string, len(cfg.ID2Label))
	for k, v := range cfg.ID2Label {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("id2label key %q: %w", k, err)
		}
		out[id] = v
	}
	if len(out) == 0 {
		for i, l := range cfg.Labels {
			out[i] = l
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no id2label found in %s", path)
	}
	return out, nil
}
