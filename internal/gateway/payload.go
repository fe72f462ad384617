package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"unicode/utf8"
)

var (
	// ErrInvalidPayload is returned for payloads that cannot be used.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrTextLimit is returned when text input exceeds the character limit.
	ErrTextLimit = errors.New("text input exceeds limit")
)

// DefaultTextLimit is the character limit for text input.
const DefaultTextLimit = 3500

// Source says where a payload item lives.
type Source string

const (
	SourceS3        Source = "s3_uri"
	SourceURL       Source = "url"
	SourceLocalPath Source = "local_path"
	SourceBase64    Source = "base64"
	SourcePlainText Source = "plain_text"
)

// Payload is a task request. Text holds data_json inputs; Files holds the
// list stored under the key named by FileType ("pdf", "txt", ...).
type Payload struct {
	FileType string
	Text     []string
	Files    []string
	Extra    map[string]json.RawMessage
}

// Item is one resolved payload entry.
type Item struct {
	Value  string
	Source Source
}

// ParsePayload decodes a JSON request body.
func ParsePayload(data []byte) (*Payload, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty body: %w", ErrInvalidPayload)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("parse json: %w: %v", ErrInvalidPayload, err)
	}

	p := &Payload{Extra: fields}
	if raw, ok := fields["file_type"]; ok {
		if err := json.Unmarshal(raw, &p.FileType); err != nil {
			return nil, fmt.Errorf("file_type: %w: %v", ErrInvalidPayload, err)
		}
		delete(fields, "file_type")
	}

	key := "text"
	if p.FileType != "" {
		if _, ok := fileTypes[p.FileType]; !ok {
			return nil, fmt.Errorf("unknown file_type %q: %w", p.FileType, ErrInvalidPayload)
		}
		key = p.FileType
	}

	raw, ok := fields[key]
	if !ok {
		return nil, fmt.Errorf("%s key is required: %w", key, ErrInvalidPayload)
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%s must be a list of strings: %w", key, ErrInvalidPayload)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no data in %s: %w", key, ErrInvalidPayload)
	}
	delete(fields, key)

	if p.FileType == "" {
		p.Text = items
	} else {
		p.Files = items
	}
	return p, nil
}

// DataType returns the data type the payload resolves to.
func (p *Payload) DataType() DataType {
	if ft, ok := fileTypes[p.FileType]; ok {
		return ft.dataType
	}
	return DataJSON
}

// Extension returns the local file extension for the payload's file type.
func (p *Payload) Extension() string {
	return fileTypes[p.FileType].ext
}

// Items classifies every payload entry. data_json entries must be plain
// text; file entries may be S3 keys, URLs, local paths or base64 data but
// must carry the file type's extension unless they are base64.
func (p *Payload) Items() ([]Item, error) {
	if p.FileType == "" {
		items := make([]Item, len(p.Text))
		for i, t := range p.Text {
			src := DataSource(t)
			if src != SourcePlainText {
				return nil, fmt.Errorf("item %d is a %s, data_json only takes plain text: %w", i, src, ErrInvalidPayload)
			}
			items[i] = Item{Value: t, Source: src}
		}
		return items, nil
	}

	ext := p.Extension()
	items := make([]Item, len(p.Files))
	for i, f := range p.Files {
		src := DataSource(f)
		switch src {
		case SourcePlainText:
			return nil, fmt.Errorf("item %d must be a file path, S3 key, URL or base64 string: %w", i, ErrInvalidPayload)
		case SourceBase64:
		default:
			if !strings.EqualFold(fileExt(f), ext) {
				return nil, fmt.Errorf("item %d must be a %s file: %w", i, ext, ErrInvalidPayload)
			}
		}
		items[i] = Item{Value: f, Source: src}
	}
	return items, nil
}

// DataSource classifies a payload string. Keys under "input/" are S3
// objects; http and https values are URLs; existing paths are local files.
// Strings that decode as standard base64 and are at least 16 characters
// long count as base64 so short words are not mistaken for it.
func DataSource(s string) Source {
	switch {
	case strings.HasPrefix(s, "input/"):
		return SourceS3
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		return SourceURL
	}
	if _, err := os.Stat(s); err == nil {
		return SourceLocalPath
	}
	if len(s) >= 16 && len(s)%4 == 0 {
		if b, err := base64.StdEncoding.Strict().DecodeString(s); err == nil && len(b) > 0 {
			return SourceBase64
		}
	}
	return SourcePlainText
}

// CheckText reports ErrTextLimit when the texts together hold more than
// limit characters. A non-positive limit uses DefaultTextLimit.
func CheckText(limit int, texts ...string) error {
	if limit <= 0 {
		limit = DefaultTextLimit
	}
	size := 0
	for _, t := range texts {
		size += utf8.RuneCountInString(t)
	}
	if size > limit {
		return fmt.Errorf("%d characters, limit %d: %w", size, limit, ErrTextLimit)
	}
	return nil
}

func fileExt(s string) string {
	if u, err := url.Parse(s); err == nil && u.Scheme != "" {
		s = u.Path
	}
	return path.Ext(s)
}
