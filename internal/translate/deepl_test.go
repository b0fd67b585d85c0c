package translate_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/locsync/locsync/internal/translate"
)

func newTestClient(t *testing.T, handler http.Handler) (*translate.DeepLClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := translate.NewDeepLClient(translate.DeepLConfig{
		BaseURL:       server.URL,
		APIKey:        "test-key",
		RetryDelay:    time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewDeepLClient() error = %v", err)
	}
	return client, server
}

func TestTranslateSendsFormAndAuth(t *testing.T) {
	var gotForm map[string]string
	var gotAuth string

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/translate" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		gotForm = map[string]string{
			"text":                r.PostFormValue("text"),
			"source_lang":         r.PostFormValue("source_lang"),
			"target_lang":         r.PostFormValue("target_lang"),
			"preserve_formatting": r.PostFormValue("preserve_formatting"),
			"tag_handling":        r.PostFormValue("tag_handling"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"translations":[{"detected_source_language":"DE","text":"Benvenuto"}]}`))
	}))

	translated, err := client.Translate(context.Background(), "Willkommen", "de", "it", translate.Options{
		PreserveFormatting: true,
		TagHandling:        "xml",
	})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if translated != "Benvenuto" {
		t.Fatalf("Translate() = %q", translated)
	}
	if gotAuth != "DeepL-Auth-Key test-key" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotForm["text"] != "Willkommen" || gotForm["source_lang"] != "DE" || gotForm["target_lang"] != "IT" {
		t.Fatalf("form = %#v", gotForm)
	}
	if gotForm["preserve_formatting"] != "1" || gotForm["tag_handling"] != "xml" {
		t.Fatalf("options not encoded: %#v", gotForm)
	}
}

func TestTranslateIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	if _, err := client.Translate(context.Background(), "Hallo", "DE", "IT", translate.Options{}); err == nil {
		t.Fatal("expected error from failing provider")
	}
	if calls.Load() != 1 {
		t.Fatalf("translate calls = %d, want 1", calls.Load())
	}
}

func TestUsageRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"character_count":120,"character_limit":500000}`))
	}))

	usage, err := client.Usage(context.Background())
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if usage.CharacterCount != 120 || usage.CharacterLimit != 500000 {
		t.Fatalf("Usage() = %+v", usage)
	}
	if calls.Load() != 3 {
		t.Fatalf("usage calls = %d, want 3", calls.Load())
	}
}

func TestLanguagesAreCached(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("type") != "target" {
			t.Errorf("type = %q", r.URL.Query().Get("type"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"language":"IT","name":"Italian","supports_formality":true}]`))
	}))

	for i := 0; i < 3; i++ {
		languages, err := client.TargetLanguages(context.Background())
		if err != nil {
			t.Fatalf("TargetLanguages() error = %v", err)
		}
		if len(languages) != 1 || languages[0].Code != "IT" {
			t.Fatalf("TargetLanguages() = %+v", languages)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("language calls = %d, want 1", calls.Load())
	}
}

func TestTranslateValidatesInput(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	if _, err := client.Translate(context.Background(), "  ", "DE", "IT", translate.Options{}); !errors.Is(err, translate.ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
	if _, err := client.Translate(context.Background(), "Hallo", "DE", "", translate.Options{}); !errors.Is(err, translate.ErrTargetLanguageRequired) {
		t.Fatalf("expected ErrTargetLanguageRequired, got %v", err)
	}
}

func TestPermanentErrorSurfacesStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"invalid auth key"}`))
	}))

	_, err := client.Usage(context.Background())
	var apiErr *translate.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusForbidden || apiErr.Message != "invalid auth key" {
		t.Fatalf("APIError = %+v", apiErr)
	}
}
