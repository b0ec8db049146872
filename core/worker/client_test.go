package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_Submit_Success(t *testing.T) {
	var got ProcessRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/process" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"completed","result_path":"processed/trimmed_a.wav"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", time.Second)
	result, err := client.Submit(context.Background(), "/abs/a.wav", "", map[string]interface{}{"start": 1.5})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if string(result) != `{"status":"completed","result_path":"processed/trimmed_a.wav"}` {
		t.Errorf("expected verbatim payload, got %s", result)
	}
	if got.FilePath != "/abs/a.wav" {
		t.Errorf("expected file_path /abs/a.wav, got %q", got.FilePath)
	}
	if got.TaskType != "trim" {
		t.Errorf("expected task_type to default to trim, got %q", got.TaskType)
	}
	if got.Params["start"] != 1.5 {
		t.Errorf("expected params to be forwarded, got %v", got.Params)
	}
}

func TestClient_Submit_NilParamsSendsEmptyObject(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, time.Second).Submit(context.Background(), "/x.wav", "separate", nil); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if string(raw["params"]) != "{}" {
		t.Errorf("expected params {}, got %s", raw["params"])
	}
}

func TestClient_Submit_ProcessingFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Source file not found"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Submit(context.Background(), "/missing.wav", "trim", nil)
	if !errors.Is(err, ErrProcessingFault) {
		t.Fatalf("expected ErrProcessingFault, got %v", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Error("processing fault must not match ErrUnavailable")
	}

	var werr *Error
	if !errors.As(err, &werr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if werr.StatusCode != http.StatusNotFound || werr.Detail != "Source file not found" {
		t.Errorf("unexpected fault details: %+v", werr)
	}
	if !IsWorkerError(err) {
		t.Error("expected IsWorkerError to be true")
	}
}

func TestClient_Submit_NonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Submit(context.Background(), "/a.wav", "trim", nil)
	if !errors.Is(err, ErrProcessingFault) {
		t.Fatalf("expected ErrProcessingFault for non-JSON body, got %v", err)
	}
}

func TestClient_Submit_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second).Submit(context.Background(), "/a.wav", "trim", nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestClient_Submit_TimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := NewClient(srv.URL, 100*time.Millisecond).Submit(context.Background(), "/a.wav", "separate", nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected timeout to map to ErrUnavailable, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout was not enforced, took %v", time.Since(start))
	}
}

func TestClient_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"status":"online","worker":"Python AI Engine"}`))
	}))
	defer srv.Close()

	status, err := NewClient(srv.URL, time.Second).Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if status["status"] != "online" {
		t.Errorf("unexpected health payload: %v", status)
	}
}
