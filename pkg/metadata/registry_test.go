package metadata_test

import (
	"strings"
	"testing"

	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/metadata"
	"github.com/scottdurow/dataverseify/pkg/metadata/metadatatest"
)

func TestRegistryLookups(t *testing.T) {
	reg := metadatatest.Registry(t)

	md, err := reg.Entity("mscrm.opportunity")
	if err != nil {
		t.Fatalf("Entity() error: %v", err)
	}
	if md.CollectionName != "opportunities" || md.PrimaryIDAttribute != "opportunityid" {
		t.Errorf("unexpected metadata: %+v", md)
	}

	byColl, err := reg.EntityByCollection("opportunities")
	if err != nil || byColl.LogicalName != "opportunity" {
		t.Errorf("EntityByCollection() = %v, %v", byColl, err)
	}

	tag, err := reg.AttributeType("opportunity", "estimatedclosedate")
	if err != nil {
		t.Fatalf("AttributeType() error: %v", err)
	}
	if tag != metadata.TypeDateOnly {
		t.Errorf("AttributeType() = %s, want %s", tag, metadata.TypeDateOnly)
	}

	targets, err := reg.AllowedTargets("account", "parentaccountid")
	if err != nil {
		t.Fatalf("AllowedTargets() error: %v", err)
	}
	if len(targets) != 1 || targets[0] != "account" {
		t.Errorf("targets not normalized: %v", targets)
	}

	label, ok := reg.OptionLabel("opportunity", "statuscode", 3)
	if !ok || label != "Won" {
		t.Errorf("OptionLabel() = %q, %v", label, ok)
	}
	if _, ok := reg.OptionLabel("opportunity", "statuscode", 99); ok {
		t.Error("expected unknown option code to be reported as unknown")
	}

	action, err := reg.Action("WinOpportunity")
	if err != nil {
		t.Fatalf("Action() error: %v", err)
	}
	if action.OperationType != metadata.OperationAction || len(action.ParameterTypes) != 2 {
		t.Errorf("unexpected action: %+v", action)
	}

	names := reg.EntityNames()
	if len(names) != 6 || names[0] != "account" {
		t.Errorf("EntityNames() = %v", names)
	}
}

func TestRegistryUnknownNames(t *testing.T) {
	reg := metadatatest.Registry(t)

	tests := []struct {
		name string
		call func() error
	}{
		{"entity", func() error { _, err := reg.Entity("invoice"); return err }},
		{"attribute", func() error { _, err := reg.AttributeType("account", "revenue"); return err }},
		{"navigation", func() error { _, err := reg.AllowedTargets("account", "nope"); return err }},
		{"action", func() error { _, err := reg.Action("QualifyLead"); return err }},
		{"collection", func() error { _, err := reg.EntityByCollection("invoices"); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !dataverse.IsSchemaNotFound(err) {
				t.Errorf("expected schema-not-found error, got %v", err)
			}
		})
	}
}

func TestNilRegistry(t *testing.T) {
	var reg *metadata.Registry

	if _, err := reg.Entity("account"); !dataverse.IsSchemaNotFound(err) {
		t.Errorf("expected schema-not-found from nil registry, got %v", err)
	}
	if _, err := reg.Action("WinOpportunity"); !dataverse.IsSchemaNotFound(err) {
		t.Errorf("expected schema-not-found from nil registry, got %v", err)
	}
	if reg.EntityNames() != nil {
		t.Error("expected no names from nil registry")
	}
}

func TestPartyListWithoutNavigationAllowsAnyTarget(t *testing.T) {
	reg := metadatatest.Registry(t)

	targets, err := reg.AllowedTargets("email", "to")
	if err != nil {
		t.Fatalf("AllowedTargets() error: %v", err)
	}
	if !metadata.IsAllowedTarget(targets, "contact") {
		t.Error("expected any target to be allowed")
	}

	from, err := reg.AllowedTargets("email", "from")
	if err != nil {
		t.Fatalf("AllowedTargets() error: %v", err)
	}
	if metadata.IsAllowedTarget(from, "contact") {
		t.Error("contact should not be an allowed sender")
	}
	if !metadata.IsAllowedTarget(from, "mscrm.systemuser") {
		t.Error("systemuser should be an allowed sender")
	}
}

func TestNewRegistryRejectsInvalidCatalogs(t *testing.T) {
	valid := func() metadata.EntityMetadata {
		return metadata.EntityMetadata{
			CollectionName:     "accounts",
			PrimaryIDAttribute: "accountid",
			AttributeTypes: map[string]metadata.AttributeType{
				"accountid": metadata.TypeGuid,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*metadata.Catalog)
		wantErr string
	}{
		{
			name: "unknown type tag",
			mutate: func(c *metadata.Catalog) {
				em := c.Entities["account"]
				em.AttributeTypes["revenue"] = "Money"
				c.Entities["account"] = em
			},
			wantErr: "attrtype",
		},
		{
			name: "lookup without navigation",
			mutate: func(c *metadata.Catalog) {
				em := c.Entities["account"]
				em.AttributeTypes["parentaccountid"] = metadata.TypeLookup
				c.Entities["account"] = em
			},
			wantErr: "no navigation targets",
		},
		{
			name: "undeclared primary id",
			mutate: func(c *metadata.Catalog) {
				em := c.Entities["account"]
				em.PrimaryIDAttribute = "id"
				c.Entities["account"] = em
			},
			wantErr: "primary id attribute",
		},
		{
			name: "mismatched key",
			mutate: func(c *metadata.Catalog) {
				em := c.Entities["account"]
				em.LogicalName = "contact"
				c.Entities["account"] = em
			},
			wantErr: "does not match its key",
		},
		{
			name: "option set on non-optionset attribute",
			mutate: func(c *metadata.Catalog) {
				em := c.Entities["account"]
				em.OptionSets = map[string][]metadata.OptionValue{"accountid": {{Value: 1, Label: "x"}}}
				c.Entities["account"] = em
			},
			wantErr: "not an Optionset attribute",
		},
		{
			name: "bad structural property",
			mutate: func(c *metadata.Catalog) {
				c.Actions = map[string]metadata.ActionMetadata{
					"Bad": {
						OperationType:  metadata.OperationAction,
						ParameterTypes: map[string]metadata.ParameterType{"X": {TypeName: "Edm.String", StructuralProperty: "Scalar"}},
					},
				}
			},
			wantErr: "oneof",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := metadata.Catalog{Entities: map[string]metadata.EntityMetadata{"account": valid()}}
			tt.mutate(&cat)
			_, err := metadata.NewRegistry(cat)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestRegistryIsIsolatedFromCatalog(t *testing.T) {
	cat := metadata.Catalog{Entities: map[string]metadata.EntityMetadata{
		"account": {
			CollectionName:     "accounts",
			PrimaryIDAttribute: "accountid",
			AttributeTypes:     map[string]metadata.AttributeType{"accountid": metadata.TypeGuid},
		},
	}}
	reg, err := metadata.NewRegistry(cat)
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}

	cat.Entities["account"].AttributeTypes["name"] = metadata.TypeString

	if _, err := reg.AttributeType("account", "name"); err == nil {
		t.Error("registry changed after catalog was mutated")
	}
}

func TestParameterElementTypeName(t *testing.T) {
	tests := map[string]string{
		"Collection(mscrm.crmbaseentity)": "mscrm.crmbaseentity",
		"Collection(Edm.String)":          "Edm.String",
		"Edm.Int32":                       "Edm.Int32",
	}
	for in, want := range tests {
		p := metadata.ParameterType{TypeName: in}
		if got := p.ElementTypeName(); got != want {
			t.Errorf("ElementTypeName(%q) = %q, want %q", in, got, want)
		}
	}
}
