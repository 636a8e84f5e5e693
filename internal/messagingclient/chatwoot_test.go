package messagingclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNew_MissingAPIToken(t *testing.T) {
	_, err := New(Config{BaseURL: "https://app.chatwoot.com"})
	if err == nil {
		t.Error("expected error for missing API token")
	}
}

func TestNew_MissingBaseURL(t *testing.T) {
	_, err := New(Config{APIToken: "tok_123"})
	if err == nil {
		t.Error("expected error for missing base URL")
	}
}

func TestSendMessage_ExistingConversation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: got %s, want POST", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/conversations/conv-1/messages") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("api_access_token") != "tok_123" {
			t.Errorf("token header: got %q", r.Header.Get("api_access_token"))
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["content"] != "hola" {
			t.Errorf("content: got %v", body["content"])
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL, APIToken: "tok_123", AccountID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	convID, err := client.SendMessage(t.Context(), "+15551234567", "Ana", "conv-1", "hola")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if convID != "conv-1" {
		t.Errorf("conversation id: got %q, want conv-1", convID)
	}
}

func TestSendTemplateMessage_DefaultsAndParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		params, ok := body["template_params"].(map[string]any)
		if !ok {
			t.Fatalf("expected template_params in body, got %#v", body)
		}
		if params["name"] != "confirmacion_cita" {
			t.Errorf("template name: got %v", params["name"])
		}
		if params["language"] != "es" {
			t.Errorf("default language: got %v", params["language"])
		}
		if params["category"] != "UTILITY" {
			t.Errorf("default category: got %v", params["category"])
		}
		processed, ok := params["processed_params"].([]any)
		if !ok || len(processed) != 2 {
			t.Fatalf("expected 2 processed params, got %#v", params["processed_params"])
		}
		if processed[0] != "Ana" {
			t.Errorf("param 1: got %v", processed[0])
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL, APIToken: "tok_123", AccountID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = client.SendTemplateMessage(t.Context(), "+15551234567", "confirmacion_cita",
		map[string]string{"1": "Ana", "2": "martes 10am"}, "", "", "conv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpdateConversationAttributes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/custom_attributes") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		attrs, ok := body["custom_attributes"].(map[string]any)
		if !ok {
			t.Fatalf("expected custom_attributes, got %#v", body)
		}
		if attrs["atencion_automatica"] != false {
			t.Errorf("atencion_automatica: got %v", attrs["atencion_automatica"])
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL, APIToken: "tok_123", AccountID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = client.UpdateConversationAttributes(t.Context(), "conv-1", map[string]any{"atencion_automatica": false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestInvoke_RetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL, APIToken: "tok_123", AccountID: 1, Backoff: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := client.UpdateConversationAttributes(t.Context(), "conv-1", map[string]any{"x": true}); err != nil {
		t.Fatalf("unexpected error after retry: %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestInvoke_DoesNotRetryOn4xx(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL, APIToken: "tok_123", AccountID: 1, Backoff: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := client.UpdateConversationAttributes(t.Context(), "conv-1", map[string]any{"x": true}); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if attempts != 1 {
		t.Errorf("expected no retries on 4xx, got %d attempts", attempts)
	}
}
