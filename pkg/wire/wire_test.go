package wire

import (
	"encoding/json"
	"testing"
)

func TestDecodeKeepsNumberText(t *testing.T) {
	rec, err := Decode([]byte(`{"new_bigcounter": 9007199254740993, "estimatedvalue": 1234.5600}`))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if rec["new_bigcounter"] != json.Number("9007199254740993") {
		t.Errorf("big integer = %#v", rec["new_bigcounter"])
	}
	if rec["estimatedvalue"] != json.Number("1234.5600") {
		t.Errorf("decimal = %#v", rec["estimatedvalue"])
	}

	if _, err := Decode([]byte(`[1, 2]`)); err == nil {
		t.Error("expected an error for a non-object document")
	}
}

func TestNormalize(t *testing.T) {
	v, err := Normalize(Record{
		"statecode":  1,
		"customerid": Record{KeyID: "6f1c2a8e-5b1d-4f0a-9c3e-000000000001", KeyLogicalName: "account"},
		"labels":     []string{"a", "b"},
	})
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}
	m := v.(map[string]any)
	if m["statecode"] != json.Number("1") {
		t.Errorf("statecode = %#v", m["statecode"])
	}
	if _, ok := m["customerid"].(map[string]any); !ok {
		t.Errorf("customerid = %T", m["customerid"])
	}
	if labels, ok := m["labels"].([]any); !ok || len(labels) != 2 {
		t.Errorf("labels = %#v", m["labels"])
	}

	if _, err := Normalize(func() {}); err == nil {
		t.Error("expected an error for a value JSON cannot encode")
	}
}

func TestCloneIsShallowCopy(t *testing.T) {
	r := Record{"name": "Renewal"}
	c := r.Clone()
	c["name"] = "Upsell"
	if r["name"] != "Renewal" {
		t.Error("Clone shares the map with the original")
	}
}
