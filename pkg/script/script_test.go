package script

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/scottdurow/dataverseify/pkg/coerce"
	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/fetch"
	"github.com/scottdurow/dataverseify/pkg/metadata/metadatatest"
)

const (
	accountID = "6f1c2a8e-5b1d-4f0a-9c3e-000000000001"
	contactID = "6f1c2a8e-5b1d-4f0a-9c3e-000000000002"
	oppID     = "6f1c2a8e-5b1d-4f0a-9c3e-000000000003"
)

const winScript = `
action = "WinOpportunity"

def build(item):
    return {
        "logicalName": "WinOpportunity",
        "Status": 3,
        "OpportunityClose": entity("opportunityclose",
            subject = "Won: " + item.attributes["name"],
            opportunityid = item.ref),
    }

def label(item):
    return item.attributes["name"].upper()
`

func opportunity() *dataverse.Entity {
	e := dataverse.NewEntity("opportunity").
		Set("name", "Big Deal").
		Set("customerid", dataverse.NewEntityReference("account", accountID)).
		Set("new_units", big.NewInt(0).Lsh(big.NewInt(1), 60))
	e.ID = oppID
	return e
}

func TestBuildWinOpportunity(t *testing.T) {
	b, err := Compile("win.star", winScript)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if b.Action() != "WinOpportunity" {
		t.Errorf("Action() = %q", b.Action())
	}

	req, err := b.Build(context.Background(), opportunity())
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if req.LogicalName != "WinOpportunity" || req.Target != nil {
		t.Errorf("request = %+v", req)
	}
	if req.Parameters["Status"] != int64(3) {
		t.Errorf("Status = %#v", req.Parameters["Status"])
	}
	oc, ok := req.Parameters["OpportunityClose"].(*dataverse.Entity)
	if !ok {
		t.Fatalf("OpportunityClose = %T", req.Parameters["OpportunityClose"])
	}
	if oc.LogicalName != "opportunityclose" || oc.String("subject") != "Won: Big Deal" {
		t.Errorf("OpportunityClose = %+v", oc)
	}
	ref, _ := oc.Get("opportunityid")
	if !ref.(dataverse.EntityReference).Equal(dataverse.NewEntityReference("opportunity", oppID)) {
		t.Errorf("opportunityid = %v", ref)
	}

	if got := b.Label(opportunity()); got != "BIG DEAL" {
		t.Errorf("Label() = %q", got)
	}

	// The built request passes structural validation.
	eng := coerce.New(metadatatest.Registry(t))
	if _, err := eng.BuildActionPayload(req.LogicalName, req.Parameters, req.Target); err != nil {
		t.Errorf("BuildActionPayload() error: %v", err)
	}
}

func TestItemValues(t *testing.T) {
	src := `
def build(item):
    c = item.attributes["customerid"]
    return {
        "logicalName": "check",
        "customer": c.logicalName + ":" + c.id,
        "units": item.attributes["new_units"] + 1,
        "id": item.id,
        "target": item.ref,
        "parties": [party(1, ref = ref("contact", "` + contactID + `")), party(2, address = "a@example.com")],
    }
`
	b, err := Compile("check.star", src)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	req, err := b.Build(context.Background(), opportunity())
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if req.Parameters["customer"] != "account:"+accountID {
		t.Errorf("customer = %v", req.Parameters["customer"])
	}
	want := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 60), big.NewInt(1))
	if units, ok := req.Parameters["units"].(int64); !ok || big.NewInt(units).Cmp(want) != 0 {
		t.Errorf("units = %#v", req.Parameters["units"])
	}
	if req.Target == nil || req.Target.ID != oppID {
		t.Errorf("target = %v", req.Target)
	}
	if _, ok := req.Parameters["target"]; ok {
		t.Error("target should not be sent as a parameter")
	}
	parties, ok := req.Parameters["parties"].(dataverse.PartyList)
	if !ok || len(parties) != 2 {
		t.Fatalf("parties = %#v", req.Parameters["parties"])
	}
	if parties[0].Party.LogicalName != "contact" || parties[1].AddressUsed != "a@example.com" || parties[1].Role != 2 {
		t.Errorf("parties = %+v", parties)
	}
}

func TestScriptErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		compile bool
		want    string
	}{
		{name: "syntax", src: "def build(item)\n", compile: true, want: "failed to load"},
		{name: "no build", src: "x = 1\n", compile: true, want: "build(item)"},
		{name: "bad action", src: "action = 3\ndef build(item):\n    return {}\n", compile: true, want: "action"},
		{name: "not a dict", src: "def build(item):\n    return 1\n", want: "want dict"},
		{name: "no logical name", src: "def build(item):\n    return {\"Status\": 3}\n", want: "logicalName"},
		{name: "bad ref", src: "def build(item):\n    return {\"logicalName\": \"x\", \"a\": ref(\"account\", \"nope\")}\n", want: "failed"},
		{name: "runtime error", src: "def build(item):\n    return {\"logicalName\": 1 // 0}\n", want: "failed"},
		{name: "target not a ref", src: "def build(item):\n    return {\"logicalName\": \"x\", \"target\": \"y\"}\n", want: "target"},
		{name: "unsupported value", src: "def build(item):\n    return {\"logicalName\": \"x\", \"f\": build}\n", want: "unsupported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Compile(tt.name+".star", tt.src)
			if !tt.compile {
				if err != nil {
					t.Fatalf("Compile() error: %v", err)
				}
				_, err = b.Build(context.Background(), opportunity())
			}
			if !dataverse.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestTimeout(t *testing.T) {
	src := `
def build(item):
    n = 0
    for i in range(100000000):
        n += i
    return {"logicalName": "x"}
`
	b, err := Compile("slow.star", src, WithTimeout(50*time.Millisecond), WithMaxSteps(1<<40))
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	start := time.Now()
	_, err = b.Build(context.Background(), opportunity())
	if !dataverse.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("timeout not enforced, took %v", time.Since(start))
	}

	steps, err := Compile("steps.star", src, WithMaxSteps(1000))
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if _, err := steps.Build(context.Background(), opportunity()); !dataverse.IsValidation(err) {
		t.Errorf("expected step limit error, got %v", err)
	}
}

func TestLoadAndDefinition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "win.star")
	if err := os.WriteFile(path, []byte(winScript), 0o600); err != nil {
		t.Fatal(err)
	}
	b, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if b.Name() != "win.star" {
		t.Errorf("Name() = %q", b.Name())
	}

	q := fetch.New("opportunity").WithTop(5)
	def := b.Definition("win", q)
	if err := def.Validate(); err != nil {
		t.Errorf("Definition().Validate() error: %v", err)
	}
	if def.Action != "WinOpportunity" || def.Query != q {
		t.Errorf("definition = %+v", def)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.star")); err == nil {
		t.Error("expected error for missing script")
	}
}

func TestToStarlarkRejectsUnknownTypes(t *testing.T) {
	if _, err := toStarlark(map[string]any{"n": 1, "tags": []any{"a", nil}}); err != nil {
		t.Errorf("toStarlark(map) error: %v", err)
	}
	if _, err := toStarlark(struct{}{}); err == nil {
		t.Error("expected error for unsupported type")
	}
}
