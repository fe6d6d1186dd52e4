package metadata_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/scottdurow/dataverseify/pkg/metadata"
	"github.com/scottdurow/dataverseify/pkg/metadata/metadatatest"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	if err := os.WriteFile(path, []byte(metadatatest.CatalogYAML), 0o644); err != nil {
		t.Fatalf("Failed to write catalog: %v", err)
	}

	reg, err := metadata.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if _, err := reg.Action("new_BulkTag"); err != nil {
		t.Errorf("expected new_BulkTag action: %v", err)
	}
}

func TestLoadJSONCatalog(t *testing.T) {
	doc := `{
  "entities": {
    "account": {
      "typeName": "mscrm.account",
      "collectionName": "accounts",
      "primaryIdAttribute": "accountid",
      "attributeTypes": {"accountid": "Guid", "name": "String"}
    }
  }
}`
	reg, err := metadata.Load([]byte(doc))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if tag, _ := reg.AttributeType("account", "name"); tag != metadata.TypeString {
		t.Errorf("AttributeType() = %q", tag)
	}
}

func TestLoadRejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "misspelled key",
			doc: `
entities:
  account:
    collectionName: accounts
    primaryIdAttribute: accountid
    atributeTypes: {accountid: Guid}
`,
		},
		{
			name: "unknown type tag",
			doc: `
entities:
  account:
    collectionName: accounts
    primaryIdAttribute: accountid
    attributeTypes: {accountid: Guid, revenue: Money}
`,
		},
		{
			name: "uppercase logical name",
			doc: `
entities:
  Account:
    collectionName: accounts
    primaryIdAttribute: accountid
    attributeTypes: {accountid: Guid}
`,
		},
		{
			name: "bad operation type",
			doc: `
entities: {}
actions:
  WinOpportunity:
    operationType: Procedure
    parameterTypes: {}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := metadata.Load([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected schema error")
			}
			if !strings.Contains(err.Error(), "schema") {
				t.Errorf("expected schema error, got %v", err)
			}
		})
	}
}

func TestLoadEmpty(t *testing.T) {
	if _, err := metadata.Load([]byte("  \n")); err == nil {
		t.Error("expected error for empty catalog")
	}
}

func TestMarshalCatalogRoundTrip(t *testing.T) {
	reg := metadatatest.Registry(t)

	data, err := metadata.MarshalCatalog(reg.Catalog())
	if err != nil {
		t.Fatalf("MarshalCatalog() error: %v", err)
	}
	again, err := metadata.Load(data)
	if err != nil {
		t.Fatalf("Load() of exported catalog error: %v", err)
	}
	if len(again.EntityNames()) != len(reg.EntityNames()) {
		t.Errorf("entity count changed: %d != %d", len(again.EntityNames()), len(reg.EntityNames()))
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	if err := os.WriteFile(path, []byte(metadatatest.CatalogYAML), 0o644); err != nil {
		t.Fatalf("Failed to write catalog: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := metadata.NewWatcher(zerolog.New(nil).Level(zerolog.Disabled))
	w.SetDebounce(20 * time.Millisecond)

	reloaded := make(chan *metadata.Registry, 1)
	err := w.Watch(ctx, path, func(reg *metadata.Registry, err error) {
		if err != nil {
			return
		}
		select {
		case reloaded <- reg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	updated := metadatatest.CatalogYAML + `
  QualifyLead:
    operationType: Action
    parameterTypes: {}
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("Failed to update catalog: %v", err)
	}

	select {
	case reg := <-reloaded:
		if _, err := reg.Action("QualifyLead"); err != nil {
			t.Errorf("reloaded registry missing new action: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
