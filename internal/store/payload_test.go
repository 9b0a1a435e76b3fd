package store

import (
	"encoding/json"
	"testing"
)

func TestEncodeDecodePayload_Catalog(t *testing.T) {
	raw, err := EncodePayload(CatalogFeedPayload{Filter: ProductFilter{Categories: []string{"shoes"}}})
	if err != nil {
		t.Fatalf("EncodePayload failed: %v", err)
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("envelope is not JSON: %v", err)
	}
	if string(env["type"]) != `"catalog"` {
		t.Errorf("expected type tag catalog, got %s", env["type"])
	}

	p, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	catalog, ok := p.(CatalogFeedPayload)
	if !ok {
		t.Fatalf("expected CatalogFeedPayload, got %T", p)
	}
	if len(catalog.Filter.Categories) != 1 || catalog.Filter.Categories[0] != "shoes" {
		t.Errorf("filter not preserved: %+v", catalog.Filter)
	}
}

func TestDecodePayload_ProductSync(t *testing.T) {
	p, err := DecodePayload(json.RawMessage(`{"type":"product_sync","data":{"product_ids":["a","b"]}}`))
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	sync, ok := p.(ProductSyncPayload)
	if !ok {
		t.Fatalf("expected ProductSyncPayload, got %T", p)
	}
	if len(sync.ProductIDs) != 2 {
		t.Errorf("expected 2 ids, got %v", sync.ProductIDs)
	}
}

func TestDecodePayload_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown type", `{"type":"inventory","data":{}}`},
		{"shape mismatch", `{"type":"product_sync","data":{"product_ids":"a"}}`},
		{"not json", `nope`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePayload(json.RawMessage(tt.raw)); err == nil {
				t.Errorf("expected error for %s", tt.raw)
			}
		})
	}
}

func TestProductSyncPayload_Validate(t *testing.T) {
	if err := (ProductSyncPayload{}).Validate(); err == nil {
		t.Error("expected error for empty product ids")
	}
	if err := (ProductSyncPayload{ProductIDs: []string{"1"}}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusQueued, JobStatusProcessing, true},
		{JobStatusQueued, JobStatusFailed, true},
		{JobStatusQueued, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusQueued, false},
		{JobStatusProcessing, JobStatusProcessing, true},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusCompleted, JobStatusCompleted, false},
		{JobStatusFailed, JobStatusProcessing, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestJobClone_IsDeep(t *testing.T) {
	reason := "boom"
	j := &Job{FailureReason: &reason, Result: json.RawMessage(`{"a":1}`)}

	c := j.Clone()
	*c.FailureReason = "changed"
	c.Result[0] = '['

	if *j.FailureReason != "boom" {
		t.Error("clone shares FailureReason")
	}
	if string(j.Result) != `{"a":1}` {
		t.Error("clone shares Result")
	}
}
