package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 keeps objects in memory and pages listings two keys at a time.
type fakeS3 struct {
	objects map[string][]byte
	lists   int
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.lists++
	var keys []string
	for k := range f.objects {
		bucket, key, _ := strings.Cut(k, "/")
		if bucket == aws.ToString(in.Bucket) && strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		for i, k := range keys {
			if k == tok {
				start = i
			}
		}
	}
	end := min(start+2, len(keys))

	out := &s3.ListObjectsV2Output{}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func TestUploadDownload(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	m := NewFileManager(fake, nil)
	dir := t.TempDir()

	src := filepath.Join(dir, "in.json")
	if err := os.WriteFile(src, []byte(`{"a":1}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := m.Upload(context.Background(), src, "bucket", "output/1/in.json"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if string(fake.objects["bucket/output/1/in.json"]) != `{"a":1}` {
		t.Errorf("unexpected stored object %q", fake.objects["bucket/output/1/in.json"])
	}

	dst := filepath.Join(dir, "nested", "out.json")
	if err := m.Download(context.Background(), "bucket", "output/1/in.json", dst); err != nil {
		t.Fatalf("download: %v", err)
	}
	data, _ := os.ReadFile(dst)
	if string(data) != `{"a":1}` {
		t.Errorf("unexpected downloaded content %q", data)
	}

	if err := m.Download(context.Background(), "bucket", "missing", dst); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestDownloadFolder(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{
		"models/ner/v1/":                {},
		"models/ner/v1/config.json":     []byte("{}"),
		"models/ner/v1/tokenizer.json":  []byte("tok"),
		"models/ner/v1/onnx/model.onnx": []byte("weights"),
		"models/other/x.bin":            []byte("x"),
	}}
	m := NewFileManager(fake, nil)
	dir := filepath.Join(t.TempDir(), "model")

	got, err := m.DownloadFolder(context.Background(), "models", "ner/v1/", dir, false)
	if err != nil {
		t.Fatalf("download folder: %v", err)
	}
	if got != dir {
		t.Errorf("expected %s, got %s", dir, got)
	}
	for _, rel := range []string{"config.json", "tokenizer.json", filepath.Join("onnx", "model.onnx")} {
		if _, err := os.Stat(filepath.Join(dir, rel)); err != nil {
			t.Errorf("expected %s: %v", rel, err)
		}
	}
	if fake.lists < 2 {
		t.Errorf("expected paged listing, got %d calls", fake.lists)
	}

	// A second call sees a non-empty directory and skips.
	fake.lists = 0
	if _, err := m.DownloadFolder(context.Background(), "models", "ner/v1/", dir, false); err != nil {
		t.Fatalf("second download: %v", err)
	}
	if fake.lists != 0 {
		t.Error("expected download to be skipped for non-empty directory")
	}

	// Force clears stale files.
	stale := filepath.Join(dir, "stale.txt")
	_ = os.WriteFile(stale, []byte("old"), 0o600)
	if _, err := m.DownloadFolder(context.Background(), "models", "ner/v1/", dir, true); err != nil {
		t.Fatalf("forced download: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("expected forced download to clear the directory")
	}
}

func TestTargetPath(t *testing.T) {
	got, err := targetPath("/tmp/m", "ner/v1", "ner/v1/a/b.txt")
	if err != nil || got != filepath.Join("/tmp/m", "a", "b.txt") {
		t.Errorf("unexpected target %s %v", got, err)
	}
	if _, err := targetPath("/tmp/m", "ner/v1/", "ner/v1/../../etc/passwd"); !errors.Is(err, ErrUnsafeKey) {
		t.Errorf("expected ErrUnsafeKey, got %v", err)
	}
}
