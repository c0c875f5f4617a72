package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Options{BaseURL: server.URL, APIKey: "test-key", Model: "atelier-edit-1"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestGenerateDecodesInlineMedia(t *testing.T) {
	pngBytes := []byte{0x89, 'P', 'N', 'G'}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/atelier-edit-1:generate" {
			t.Errorf("path = %q, want /models/atelier-edit-1:generate", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		var req wireGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Prompt != "remove the background" {
			t.Errorf("prompt = %q", req.Prompt)
		}
		_ = json.NewEncoder(w).Encode(wireGenerateResponse{Parts: []wirePart{
			{Text: "done"},
			{InlineData: &wireInlineData{MimeType: "image/png", Data: base64.StdEncoding.EncodeToString(pngBytes)}},
		}})
	})

	result, err := client.Generate(context.Background(), GenerateRequest{Prompt: "remove the background", RequestID: "req-1"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(result.Media) != 1 {
		t.Fatalf("media count = %d, want 1", len(result.Media))
	}
	if result.Media[0].MIME != "image/png" {
		t.Fatalf("mime = %q, want image/png", result.Media[0].MIME)
	}
	if string(result.Media[0].Data) != string(pngBytes) {
		t.Fatalf("media bytes do not round-trip")
	}
	if result.Text != "done" {
		t.Fatalf("text = %q, want %q", result.Text, "done")
	}
}

func TestGenerateServerErrorIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": 503, "message": "backend overloaded"}})
	})

	_, err := client.Generate(context.Background(), GenerateRequest{Prompt: "p"})
	if err == nil {
		t.Fatal("Generate() error = nil, want transient failure")
	}
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("error type = %T, want *CallError", err)
	}
	if callErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("Status = %d, want 503", callErr.Status)
	}
	if !IsTransient(err) {
		t.Fatal("IsTransient = false, want true for 5xx")
	}
}

func TestGenerateErrorKeepsPlainTextBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream capacity exhausted, retry shortly"))
	})

	_, err := client.Generate(context.Background(), GenerateRequest{Prompt: "p"})
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("error type = %T, want *CallError", err)
	}
	if callErr.Message != "upstream capacity exhausted, retry shortly" {
		t.Fatalf("Message = %q, want the full response body", callErr.Message)
	}
}

func TestGenerateMalformedBodyIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	})

	_, err := client.Generate(context.Background(), GenerateRequest{Prompt: "p"})
	if err == nil {
		t.Fatal("Generate() error = nil, want transient failure")
	}
	if !IsTransient(err) {
		t.Fatal("IsTransient = false, want true for undecodable body")
	}
}

func TestGenerateEmptyResultIsPermanent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(wireGenerateResponse{})
	})

	_, err := client.Generate(context.Background(), GenerateRequest{Prompt: "p"})
	if err == nil {
		t.Fatal("Generate() error = nil, want permanent failure")
	}
	if IsTransient(err) {
		t.Fatal("IsTransient = true, want false for an empty well-formed response")
	}
}

func TestGenerateEncodesReferenceMedia(t *testing.T) {
	raw := []byte("reference-bytes")
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req wireGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Reference) != 1 || req.Reference[0].InlineData == nil {
			t.Errorf("reference = %+v, want one inline part", req.Reference)
		} else if req.Reference[0].InlineData.Data != base64.StdEncoding.EncodeToString(raw) {
			t.Error("reference bytes not base64-encoded")
		}
		if req.Variants != 2 {
			t.Errorf("variants = %d, want 2", req.Variants)
		}
		_ = json.NewEncoder(w).Encode(wireGenerateResponse{Parts: []wirePart{{Text: "ok"}}})
	})

	_, err := client.Generate(context.Background(), GenerateRequest{
		Prompt:    "p",
		Reference: []Media{{MIME: "image/png", Data: raw}},
		Variants:  2,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Fatal("NewClient without base url error = nil, want error")
	}
}
