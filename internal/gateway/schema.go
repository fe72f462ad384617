// Package gateway holds the request and response shapes exchanged with the
// model platform and a client for Triton inference servers.
package gateway

import (
	"encoding/json"
	"fmt"
)

// DataType names one kind of payload content.
type DataType string

const (
	DataChar  DataType = "data_char"
	DataPDF   DataType = "data_pdf"
	DataTXT   DataType = "data_txt"
	DataFile  DataType = "data_file"
	DataJSON  DataType = "data_json"
	DataImage DataType = "data_image"
	DataAudio DataType = "data_audio"
	DataDICOM DataType = "data_dicom"
	DataSVG   DataType = "data_svg"
)

// ValidDataTypes lists the data types a payload may resolve to.
var ValidDataTypes = []DataType{DataChar, DataPDF, DataTXT, DataFile, DataJSON, DataImage, DataAudio, DataDICOM, DataSVG}

// fileTypes maps a payload's file_type to its data type, payload key and
// local file extension.
var fileTypes = map[string]struct {
	dataType DataType
	ext      string
}{
	"pdf":   {DataPDF, ".pdf"},
	"txt":   {DataTXT, ".txt"},
	"image": {DataImage, ".jpg"},
	"audio": {DataAudio, ".mp3"},
	"dcm":   {DataDICOM, ".dcm"},
	"svg":   {DataSVG, ".svg"},
}

// Output is the envelope every task returns:
//
//	{"status": true, "data_type": ["data_json"], "output": {"data_json": {"result": ...}}}
type Output struct {
	Status   bool                         `json:"status"`
	DataType []DataType                   `json:"data_type"`
	Output   map[DataType]json.RawMessage `json:"output"`
}

// NewOutput wraps a task result in the data_json envelope.
func NewOutput(result any) (*Output, error) {
	body, err := json.Marshal(struct {
		Result any `json:"result"`
	}{result})
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Output{
		Status:   true,
		DataType: []DataType{DataJSON},
		Output:   map[DataType]json.RawMessage{DataJSON: body},
	}, nil
}

// Result decodes the data_json result into v.
func (o *Output) Result(v any) error {
	raw, ok := o.Output[DataJSON]
	if !ok {
		return fmt.Errorf("output has no %s", DataJSON)
	}
	var env struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode %s: %w", DataJSON, err)
	}
	if err := json.Unmarshal(env.Result, v); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// ClassificationResult is one text classification answer.
type ClassificationResult struct {
	Category []string     `json:"category,omitempty"`
	Classes  []LabelScore `json:"classes"`
}

// LabelScore is a class label with its probability.
type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// TextClassificationInput is the input of text classification models.
type TextClassificationInput struct {
	Text []string `json:"text"`
}

// NERInput is the input of entity recognition models.
type NERInput struct {
	Text   []string `json:"text"`
	Entity []string `json:"entity"`
}

// DeidInput is the input of de-identification models.
type DeidInput struct {
	Text       []string `json:"text"`
	Entity     []string `json:"entity"`
	MaskedText bool     `json:"masked_text"`
	FakedText  bool     `json:"faked_text"`
}

// TranslationInput is the input of translation models.
type TranslationInput struct {
	Text   []string `json:"text"`
	Source string   `json:"source_language"`
	Target string   `json:"target_language"`
}
