package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"flowboard-api/domain"
)

func completionBody(text string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": text}},
		},
	})
	return string(b)
}

func testTranscript() []domain.Message {
	return []domain.Message{
		{Role: domain.RoleSystem, Content: "be helpful"},
		{Role: domain.RoleUser, Content: "Task: write docs"},
	}
}

func TestClientComplete(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(completionBody("the docs")))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIKey: "k1", BaseURL: srv.URL, Model: "test-model"})
	text, err := c.Complete(context.Background(), testTranscript())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "the docs" {
		t.Fatalf("text = %q", text)
	}
	if gotAuth != "Bearer k1" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotReq.Model != "test-model" || len(gotReq.Messages) != 2 {
		t.Fatalf("request = %+v", gotReq)
	}
}

func TestClientCompleteRetriesOnThrottle(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"rate limited"}}`))
			return
		}
		w.Write([]byte(completionBody("second try")))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIKey: "k1", BaseURL: srv.URL})
	text, err := c.Complete(context.Background(), testTranscript())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "second try" {
		t.Fatalf("text = %q", text)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestClientCompleteClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"model not found","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIKey: "k1", BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), testTranscript())
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if perr.StatusCode != http.StatusBadRequest || perr.Message != "model not found" {
		t.Fatalf("provider error = %+v", perr)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestClientCompleteEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionBody("")))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIKey: "k1", BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), testTranscript())
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if perr.Message != "empty response from AI" {
		t.Fatalf("message = %q", perr.Message)
	}
}

func TestClientCompleteMissingKey(t *testing.T) {
	c := NewClient(ClientConfig{})
	if _, err := c.Complete(context.Background(), testTranscript()); err == nil {
		t.Fatal("expected error without api key")
	}
}
