package extract_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"smider/broker-service/internal/extract"
	"smider/broker-service/internal/model"
)

// ── Decode ─────────────────────────────────────────────────────────────────

func TestDecode_FailsClosedOnMalformedInput(t *testing.T) {
	inputs := []string{
		"",
		"not json",
		`{"task_details": "bytte stikk`,
		`["task_details"]`,
		`null`,
		`42`,
	}
	for _, in := range inputs {
		p, _ := extract.Decode([]byte(in))
		if p == nil {
			t.Fatalf("Decode(%q) returned nil payload", in)
		}
		for _, f := range model.PayloadFields {
			if p.Known(f.Name) {
				t.Errorf("Decode(%q): field %s should be missing", in, f.Name)
			}
		}
	}
}

func TestDecode_KeepsFalseAndZero(t *testing.T) {
	p, dropped := extract.Decode([]byte(`{
		"task_details": "bytte stikkontakt",
		"materials_by_customer": false,
		"socket_count": 0,
		"has_product": null
	}`))
	if len(dropped) != 0 {
		t.Errorf("dropped = %v, want none", dropped)
	}
	if !p.Known("materials_by_customer") || *p.MaterialsByCustomer {
		t.Errorf("materials_by_customer = %v, want known false", p.MaterialsByCustomer)
	}
	if !p.Known("socket_count") || *p.SocketCount != 0 {
		t.Errorf("socket_count = %v, want known 0", p.SocketCount)
	}
	if p.Known("has_product") {
		t.Error("null has_product should be missing")
	}
}

func TestDecode_DropsMalformedFieldsKeepsRest(t *testing.T) {
	p, dropped := extract.Decode([]byte(`{
		"task_details": "ny lampe",
		"switch_type": "maybe",
		"lamp_count": "two",
		"dimmer_count": -1,
		"is_grounded": "ja",
		"spot_count": "4",
		"ceiling_height_type": "HIGH_SLOPED",
		"product_info": "   ",
		"mystery": 1
	}`))

	if model.Str(p.TaskDetails) != "ny lampe" {
		t.Errorf("task_details = %q", model.Str(p.TaskDetails))
	}
	for _, f := range []string{"switch_type", "lamp_count", "dimmer_count", "mystery"} {
		if !contains(dropped, f) {
			t.Errorf("expected %s in dropped %v", f, dropped)
		}
	}
	if p.Known("switch_type") || p.Known("lamp_count") || p.Known("dimmer_count") || p.Known("product_info") {
		t.Errorf("malformed fields leaked into payload: %+v", p)
	}
	if !model.True(p.IsGrounded) {
		t.Error(`is_grounded "ja" should normalize to true`)
	}
	if model.Num(p.SpotCount, 0) != 4 {
		t.Errorf("spot_count = %v, want 4", p.SpotCount)
	}
	if model.Str(p.CeilingHeightType) != "high_sloped" {
		t.Errorf("ceiling_height_type = %q, want lower-cased enum", model.Str(p.CeilingHeightType))
	}
}

func TestDecode_StripsCodeFence(t *testing.T) {
	p, _ := extract.Decode([]byte("```json\n{\"task_details\": \"maling\", \"area_sqm\": 30}\n```"))
	if model.Str(p.TaskDetails) != "maling" || model.Num(p.AreaSqm, 0) != 30 {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestBuildPayloadSchema_CoversEveryField(t *testing.T) {
	props := extract.BuildPayloadSchema()["properties"].(map[string]any)
	for _, f := range model.PayloadFields {
		if _, ok := props[f.Name]; !ok {
			t.Errorf("schema lacks property %s", f.Name)
		}
	}
	if err := extract.Validate([]byte(`{"switch_type": "sometimes"}`)); err == nil {
		t.Error("expected enum violation")
	}
	if err := extract.Validate([]byte(`{"switch_type": null, "socket_count": 2}`)); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

// ── OpenAI client ──────────────────────────────────────────────────────────

func TestOpenAIClient_ReturnsMessageContent(t *testing.T) {
	var got struct {
		Model          string           `json:"model"`
		ResponseFormat map[string]any   `json:"response_format"`
		Messages       []map[string]any `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":" {\"task_details\":\"bytte stikkontakt\"} "}}]}`))
	}))
	defer srv.Close()

	c := extract.NewOpenAIClient(extract.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/"}, nil)
	raw, err := c.Extract(context.Background(), []extract.Turn{
		{Role: "user", Content: "Jeg vil bytte en stikkontakt"},
		{Role: "system", Content: "ignored role"},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if string(raw) != `{"task_details":"bytte stikkontakt"}` {
		t.Errorf("raw = %s", raw)
	}
	if got.Model != "gpt-4o-mini" || got.ResponseFormat["type"] != "json_object" {
		t.Errorf("unexpected request model=%q format=%v", got.Model, got.ResponseFormat)
	}
	// two system messages, then the conversation with roles clamped
	if len(got.Messages) != 4 || got.Messages[3]["role"] != "user" {
		t.Errorf("unexpected messages %+v", got.Messages)
	}
}

func TestOpenAIClient_HTTPErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := extract.NewOpenAIClient(extract.OpenAIConfig{BaseURL: srv.URL}, nil)
	_, err := c.Extract(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v, want status 429", err)
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
