package platform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type staticAuth string

func (s staticAuth) AuthHeader() (string, error) { return "Bearer " + string(s), nil }

func noSleep(t *testing.T) {
	t.Helper()
	orig := sleepFunc
	sleepFunc = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	t.Cleanup(func() { sleepFunc = orig })
}

func TestRunModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pub/backend/api/v1/model_run_prediction/42/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["text"] == nil {
			t.Error("expected payload text")
		}
		_, _ = w.Write([]byte(`{"status":true}`))
	}))
	defer server.Close()

	c := New(server.URL, staticAuth("tok"), Options{})
	out, err := c.RunModel(context.Background(), 42, map[string]any{"text": []string{"hello"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if string(out) != `{"status":true}` {
		t.Errorf("unexpected body %s", out)
	}
}

func TestRunModel_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"bad token"}`))
	}))
	defer server.Close()

	c := New(server.URL, staticAuth("tok"), Options{})
	_, err := c.RunModel(context.Background(), 1, nil)
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("expected ErrStatus, got %v", err)
	}
	if !strings.Contains(err.Error(), "bad token") {
		t.Errorf("expected body in error, got %v", err)
	}
}

func TestPodLogResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("model_id") != "7" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("pod log must not send credentials")
		}
		_, _ = w.Write([]byte(`{"waiting":"ContainerCreating"}`))
	}))
	defer server.Close()

	pod, err := New(server.URL, staticAuth("tok"), Options{}).PodLogResult(context.Background(), 7)
	if err != nil {
		t.Fatalf("pod log: %v", err)
	}
	if pod.WaitingReason() != "Creating" {
		t.Errorf("expected Creating, got %q", pod.WaitingReason())
	}
	if pod.IsRunning() {
		t.Error("expected pod not running")
	}
}

func TestRunModelWithCallback(t *testing.T) {
	noSleep(t)

	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/pub/backend/get_pod_log"):
			switch polls.Add(1) {
			case 1:
				_, _ = w.Write([]byte(`{"waiting":"ContainerCreating"}`))
			case 2:
				_, _ = w.Write([]byte(`{}`))
			default:
				_, _ = w.Write([]byte(`{"running":{"startedAt":"now"}}`))
			}
		default:
			_, _ = w.Write([]byte(`{"status":true,"output":{}}`))
		}
	}))
	defer server.Close()

	var events []Event
	c := New(server.URL, staticAuth("tok"), Options{})
	out, err := c.RunModelWithCallback(context.Background(), 3, map[string]any{}, func(e Event) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(string(out), `"status":true`) {
		t.Errorf("unexpected result %s", out)
	}

	var names []string
	for _, e := range events {
		names = append(names, e.Name)
	}
	want := []string{EventStart, EventProcess, EventProcess, EventEnd}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("expected events %v, got %v", want, names)
	}
	if events[1].Message != "Model is Creating" {
		t.Errorf("unexpected message %q", events[1].Message)
	}
	if string(events[3].Data) != string(out) {
		t.Error("expected end event to carry the result")
	}
}

func TestRunModelWithCallback_CrashLoop(t *testing.T) {
	noSleep(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"waiting":"CrashLoopBackOff"}`))
	}))
	defer server.Close()

	var last Event
	c := New(server.URL, staticAuth("tok"), Options{})
	_, err := c.RunModelWithCallback(context.Background(), 3, nil, func(e Event) { last = e })
	if !errors.Is(err, ErrPodFailed) {
		t.Fatalf("expected ErrPodFailed, got %v", err)
	}
	if last.Name != EventError {
		t.Errorf("expected error event last, got %s", last.Name)
	}
}

func TestRunModelWithCallback_Cancelled(t *testing.T) {
	noSleep(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := New(server.URL, staticAuth("tok"), Options{})
	_, err := c.RunModelWithCallback(ctx, 3, nil, func(e Event) {
		if e.Name == EventProcess {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestFileUpload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(path, []byte("patient note"), 0o600); err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pub/backend/api/v1/file_upload/5" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		f, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		if header.Filename != "note.txt" || string(data) != "patient note" {
			t.Errorf("unexpected upload %s %q", header.Filename, data)
		}
		_, _ = w.Write([]byte(`{"file":"input/abc/note.txt"}`))
	}))
	defer server.Close()

	out, err := New(server.URL, staticAuth("tok"), Options{}).FileUpload(context.Background(), 5, path)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.Contains(string(out), "input/abc/note.txt") {
		t.Errorf("unexpected response %s", out)
	}
}

func TestFileDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("file") != "output/a b.txt" {
			t.Errorf("unexpected file %q", r.URL.Query().Get("file"))
		}
		_, _ = w.Write([]byte("result body"))
	}))
	defer server.Close()

	target := filepath.Join(t.TempDir(), "sub", "out.txt")
	got, err := New(server.URL, staticAuth("tok"), Options{}).FileDownload(context.Background(), "output/a b.txt", target)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	data, _ := os.ReadFile(got)
	if string(data) != "result body" {
		t.Errorf("unexpected content %q", data)
	}
}
