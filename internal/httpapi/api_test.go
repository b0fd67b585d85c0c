package httpapi_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/locsync/locsync/internal/cms"
	"github.com/locsync/locsync/internal/engine"
	"github.com/locsync/locsync/internal/httpapi"
	"github.com/locsync/locsync/internal/policy"
	"github.com/locsync/locsync/internal/refgraph"
	"github.com/locsync/locsync/internal/relation"
	"github.com/locsync/locsync/internal/translate"
)

const locale = "en-US-POSIX"

type echoTranslator struct{}

func (echoTranslator) Translate(_ context.Context, text, _, targetLang string, _ translate.Options) (string, error) {
	return text + " [" + targetLang + "]", nil
}

func (echoTranslator) Usage(context.Context) (translate.Usage, error) {
	return translate.Usage{CharacterCount: 1200, CharacterLimit: 500000}, nil
}

func (echoTranslator) SourceLanguages(context.Context) ([]translate.Language, error) {
	return []translate.Language{{Code: "EN", Name: "English"}}, nil
}

func (echoTranslator) TargetLanguages(context.Context) ([]translate.Language, error) {
	return []translate.Language{{Code: "DE", Name: "German"}, {Code: "IT", Name: "Italian"}}, nil
}

type fixture struct {
	client  *cms.MemoryClient
	store   *relation.MemoryStore
	engine  *engine.Engine
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	client := cms.NewMemoryClient()
	var seq atomic.Int64
	client.IDFunc = func() string { return fmt.Sprintf("t%d", seq.Add(1)) }

	client.AddContentType(&cms.ContentType{
		Sys:  cms.Sys{ID: "cmsPage"},
		Name: "CMS Page",
		Fields: []cms.Field{
			{ID: "title", Type: cms.FieldTypeSymbol},
			{ID: "culture", Type: cms.FieldTypeSymbol},
			{ID: "elements", Type: cms.FieldTypeArray, Items: &cms.Items{Type: cms.FieldTypeLink, LinkType: cms.TypeEntry}},
		},
	})
	client.AddContentType(&cms.ContentType{
		Sys:  cms.Sys{ID: "scText"},
		Name: "Text",
		Fields: []cms.Field{
			{ID: "content", Type: cms.FieldTypeText},
		},
	})
	client.AddEntry(pageEntry("src", 3, cms.Fields{
		"title":    {locale: "Welcome"},
		"culture":  {locale: "en-GB"},
		"elements": {locale: []any{cms.EntryLink("child1")}},
	}))
	client.AddEntry(&cms.Entry{
		Sys: cms.Sys{
			ID:          "child1",
			Type:        cms.TypeEntry,
			Version:     1,
			ContentType: &cms.TypeRef{Sys: cms.LinkSys{Type: cms.TypeLink, LinkType: "ContentType", ID: "scText"}},
		},
		Fields: cms.Fields{"content": {locale: "First section"}},
	})

	pol := policy.Default()
	store := relation.NewMemoryStore()
	translator := echoTranslator{}
	eng := engine.New(
		func(cms.Scope) cms.Client { return client },
		translator, store, refgraph.New(pol), pol,
	)
	api := httpapi.New(eng, store, translator)

	return &fixture{
		client:  client,
		store:   store,
		engine:  eng,
		handler: api.Handler(),
	}
}

func pageEntry(id string, version int, fields cms.Fields) *cms.Entry {
	return &cms.Entry{
		Sys: cms.Sys{
			ID:          id,
			Type:        cms.TypeEntry,
			Version:     version,
			ContentType: &cms.TypeRef{Sys: cms.LinkSys{Type: cms.TypeLink, LinkType: "ContentType", ID: "cmsPage"}},
		},
		Fields: fields,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response: %v\nbody: %s", err, rec.Body.String())
	}
}

func cloneOnce(t *testing.T, f *fixture) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/clone", `{"sourceEntryId":"src","targetLanguage":"DE"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("clone status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var response struct {
		Success       bool   `json:"success"`
		ClonedEntryID string `json:"clonedEntryId"`
	}
	decodeBody(t, rec, &response)
	if !response.Success || response.ClonedEntryID == "" {
		t.Fatalf("clone response = %s", rec.Body.String())
	}
	return response.ClonedEntryID
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTranslatorStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/deepl/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var response struct {
		Status string          `json:"status"`
		Usage  translate.Usage `json:"usage"`
	}
	decodeBody(t, rec, &response)
	if response.Status != "ok" || response.Usage.CharacterCount != 1200 {
		t.Fatalf("response = %+v", response)
	}
}

func TestCloneEndpointFansOutPerTargetLanguage(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/clone",
		`{"sourceEntryId":"src","targetLanguages":["DE","IT"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var response struct {
		Success         bool     `json:"success"`
		OriginalEntryID string   `json:"originalEntryId"`
		ClonedEntryID   string   `json:"clonedEntryId"`
		TargetLocales   []string `json:"targetLocales"`
		AllResults      []struct {
			TargetLanguage string `json:"targetLanguage"`
			TargetLocale   string `json:"targetLocale"`
			Success        bool   `json:"success"`
			ClonedEntryID  string `json:"clonedEntryId"`
		} `json:"allResults"`
	}
	decodeBody(t, rec, &response)

	if !response.Success || response.OriginalEntryID != "src" {
		t.Fatalf("response = %s", rec.Body.String())
	}
	if len(response.AllResults) != 2 || len(response.TargetLocales) != 2 {
		t.Fatalf("results = %+v", response)
	}
	if response.TargetLocales[0] != "de-DE" || response.TargetLocales[1] != "it-IT" {
		t.Fatalf("locales = %v", response.TargetLocales)
	}
	if response.ClonedEntryID != response.AllResults[0].ClonedEntryID {
		t.Fatal("legacy top-level fields must mirror the first result")
	}
	if response.AllResults[0].ClonedEntryID == response.AllResults[1].ClonedEntryID {
		t.Fatal("each target language must produce its own clone")
	}
}

func TestCloneEndpointRejectsMissingFields(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/clone", `{}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestCloneEndpointUnknownLanguage(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/clone", `{"sourceEntryId":"src","targetLanguage":"XX"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	cloneOnce(t, f)

	rec := f.do(t, http.MethodGet, "/api/incremental/status?entryId=src&targetLanguage=DE", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var response struct {
		HasRelationship bool `json:"hasRelationship"`
		UpToDate        bool `json:"upToDate"`
	}
	decodeBody(t, rec, &response)
	if !response.HasRelationship || !response.UpToDate {
		t.Fatalf("response = %s", rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/incremental/status?entryId=src&targetLanguage=IT", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	decodeBody(t, rec, &response)
	if response.HasRelationship {
		t.Fatal("unknown language pair must report no relationship")
	}
}

func TestStatusEndpointRequiresParams(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/incremental/status?entryId=src", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestUpdateEndpointResolvesTargetByLanguage(t *testing.T) {
	f := newFixture(t)
	cloneOnce(t, f)

	source := mustGet(t, f, "src")
	source.SetFieldValue("title", locale, "Refreshed welcome")
	if _, err := f.client.UpdateEntry(context.Background(), source); err != nil {
		t.Fatalf("UpdateEntry() error = %v", err)
	}

	rec := f.do(t, http.MethodPost, "/api/incremental/update",
		`{"sourceEntryId":"src","targetLanguage":"DE","options":{"reason":"editor request"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var response struct {
		Success       bool     `json:"success"`
		FieldsUpdated []string `json:"fieldsUpdated"`
		BackupID      string   `json:"backupId"`
	}
	decodeBody(t, rec, &response)
	if !response.Success || response.BackupID == "" {
		t.Fatalf("response = %s", rec.Body.String())
	}
	found := false
	for _, field := range response.FieldsUpdated {
		if field == "title" {
			found = true
		}
	}
	if !found {
		t.Fatalf("fieldsUpdated = %v, want title", response.FieldsUpdated)
	}
}

func TestUpdateEndpointUnknownRelationship(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/incremental/update",
		`{"sourceEntryId":"src","targetEntryId":"ghost"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body = %s", rec.Code, rec.Body.String())
	}
}

func TestRelationshipsEndpointCoversBothSides(t *testing.T) {
	f := newFixture(t)
	target := cloneOnce(t, f)

	for _, entryID := range []string{"src", target} {
		rec := f.do(t, http.MethodGet, "/api/incremental/relationships/"+entryID, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d for %s", rec.Code, entryID)
		}
		var response struct {
			Count         int `json:"count"`
			Relationships []struct {
				SourceEntryID string `json:"sourceEntryId"`
				TargetEntryID string `json:"targetEntryId"`
			} `json:"relationships"`
		}
		decodeBody(t, rec, &response)
		if response.Count != 1 || response.Relationships[0].TargetEntryID != target {
			t.Fatalf("response for %s = %s", entryID, rec.Body.String())
		}
	}
}

func TestBackupsEndpoint(t *testing.T) {
	f := newFixture(t)
	target := cloneOnce(t, f)

	source := mustGet(t, f, "src")
	source.SetFieldValue("title", locale, "Refreshed welcome")
	if _, err := f.client.UpdateEntry(context.Background(), source); err != nil {
		t.Fatalf("UpdateEntry() error = %v", err)
	}
	if rec := f.do(t, http.MethodPost, "/api/incremental/update",
		`{"sourceEntryId":"src","targetEntryId":"`+target+`"}`); rec.Code != http.StatusOK {
		t.Fatalf("update status = %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/api/incremental/backups/"+target, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var response struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &response)
	if response.Count != 1 {
		t.Fatalf("response = %s", rec.Body.String())
	}
}

func TestDeepReferencesEndpoints(t *testing.T) {
	f := newFixture(t)
	target := cloneOnce(t, f)

	rec := f.do(t, http.MethodGet, "/api/incremental/deep-references/src/"+target, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var stats struct {
		NodeCount int  `json:"nodeCount"`
		Rebuilt   bool `json:"rebuilt"`
	}
	decodeBody(t, rec, &stats)
	if stats.NodeCount != 2 || stats.Rebuilt {
		t.Fatalf("stats = %+v", stats)
	}

	rec = f.do(t, http.MethodPost, "/api/incremental/deep-references/src/"+target+"/rebuild", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("rebuild status = %d, body = %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &stats)
	if stats.NodeCount != 2 || !stats.Rebuilt {
		t.Fatalf("rebuild stats = %+v", stats)
	}

	rec = f.do(t, http.MethodGet, "/api/incremental/deep-references/src/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing snapshot status = %d, want 404", rec.Code)
	}
}

func TestPanicRecoveryAnswers500(t *testing.T) {
	store := relation.NewMemoryStore()
	// A nil engine makes the status handler panic; the middleware must turn
	// that into a 500 instead of killing the server.
	api := httpapi.New(nil, store, echoTranslator{})
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/incremental/status?entryId=x&targetLanguage=DE", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func mustGet(t *testing.T, f *fixture, id string) *cms.Entry {
	t.Helper()
	e, err := f.client.GetEntry(context.Background(), id)
	if err != nil {
		t.Fatalf("GetEntry(%q) error = %v", id, err)
	}
	return e
}
