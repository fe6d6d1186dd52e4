package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/fetch"
	"github.com/scottdurow/dataverseify/pkg/metadata"
	"github.com/scottdurow/dataverseify/pkg/metadata/metadatatest"
	"github.com/scottdurow/dataverseify/pkg/wire"
)

const accountID = "6f1c2a8e-5b1d-4f0a-9c3e-000000000001"

func newTestStore(t *testing.T) (*Store, *metadata.EntityMetadata) {
	t.Helper()
	reg := metadatatest.Registry(t)
	md, err := reg.Entity("opportunity")
	if err != nil {
		t.Fatalf("Entity(opportunity) error: %v", err)
	}

	s := New(reg)
	customer := wire.Record{wire.KeyID: accountID, wire.KeyLogicalName: "account"}
	_, err = s.Seed("opportunity",
		wire.Record{"name": "Renewal", "statecode": 0, "estimatedvalue": "100.50", "customerid": customer},
		wire.Record{"name": "Upsell", "statecode": 0, "estimatedvalue": "2500", "customerid": customer},
		wire.Record{"name": "Lost deal", "statecode": 2, "estimatedvalue": "10"},
		wire.Record{"name": "Audit", "statecode": 0},
	)
	if err != nil {
		t.Fatalf("Seed() error: %v", err)
	}
	return s, md
}

func names(page *wire.Page) []string {
	out := make([]string, len(page.Records))
	for i, rec := range page.Records {
		out[i], _ = rec["name"].(string)
	}
	return out
}

func TestRetrieveMultiple(t *testing.T) {
	s, md := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		query *fetch.Query
		want  []string
		more  bool
	}{
		{
			name:  "lookup and optionset filter",
			query: fetch.New("opportunity").Where("customerid", fetch.OpEqual, accountID).Where("statecode", fetch.OpEqual, "0").OrderBy("name", false),
			want:  []string{"Renewal", "Upsell"},
		},
		{
			name:  "decimal comparison",
			query: fetch.New("opportunity").Where("estimatedvalue", fetch.OpGreaterThan, "100.5"),
			want:  []string{"Upsell"},
		},
		{
			name:  "null operator",
			query: fetch.New("opportunity").Where("estimatedvalue", fetch.OpNull, ""),
			want:  []string{"Audit"},
		},
		{
			name:  "or filter",
			query: fetch.New("opportunity").Where("name", fetch.OpEqual, "audit").Where("statecode", fetch.OpEqual, "2").Any().OrderBy("name", true),
			want:  []string{"Lost deal", "Audit"},
		},
		{
			name:  "top truncates",
			query: fetch.New("opportunity").OrderBy("name", false).WithTop(2),
			want:  []string{"Audit", "Lost deal"},
			more:  true,
		},
		{
			name:  "second page",
			query: fetch.New("opportunity").OrderBy("name", false).WithPage(2, 3, ""),
			want:  []string{"Upsell"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := s.RetrieveMultiple(ctx, md, tt.query)
			if err != nil {
				t.Fatalf("RetrieveMultiple() error: %v", err)
			}
			got := names(page)
			if len(got) != len(tt.want) {
				t.Fatalf("names = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("names = %v, want %v", got, tt.want)
					break
				}
			}
			if page.MoreRecords != tt.more {
				t.Errorf("MoreRecords = %v, want %v", page.MoreRecords, tt.more)
			}
		})
	}
}

func TestProjectionKeepsPrimaryID(t *testing.T) {
	s, md := newTestStore(t)

	page, err := s.RetrieveMultiple(context.Background(), md, fetch.New("opportunity").Select("name").WithTop(1))
	if err != nil {
		t.Fatalf("RetrieveMultiple() error: %v", err)
	}
	rec := page.Records[0]
	if len(rec) != 2 || rec["opportunityid"] == nil {
		t.Errorf("projected record = %v", rec)
	}
}

func TestCRUDAndNotFound(t *testing.T) {
	s, md := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, md, wire.Record{"name": "New"})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := s.Update(ctx, md, "{"+id+"}", wire.Record{"name": "Renamed", "opportunityid": "ignored"}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	rec, err := s.Retrieve(ctx, md, id, []string{"name"})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if rec["name"] != "Renamed" || rec["opportunityid"] != id {
		t.Errorf("record = %v", rec)
	}

	if err := s.Delete(ctx, md, id); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	_, err = s.Retrieve(ctx, md, id, nil)
	var dvErr *dataverse.Error
	if !errors.As(err, &dvErr) || dvErr.StatusCode != 404 {
		t.Errorf("expected 404 service error, got %v", err)
	}
	if s.CountCalls(OpRetrieve) != 2 {
		t.Errorf("retrieve calls = %d", s.CountCalls(OpRetrieve))
	}
}

func TestFailureHook(t *testing.T) {
	s, md := newTestStore(t)
	boom := dataverse.NewServiceError(500, "boom", nil)
	s.SetFailure(func(call Call) error {
		if call.Op == OpUpdate {
			return boom
		}
		return nil
	})

	err := s.Update(context.Background(), md, "00000000-0000-0000-0000-000000000001", wire.Record{"name": "x"})
	if !errors.Is(err, boom) {
		t.Errorf("Update() error = %v, want hook error", err)
	}
	if calls := s.Calls(); len(calls) != 1 || calls[0].Op != OpUpdate {
		t.Errorf("calls = %v", calls)
	}
}

func TestSetStateHandler(t *testing.T) {
	s, md := newTestStore(t)
	ctx := context.Background()
	s.RegisterAction("WinOpportunity", SetState("OpportunityClose", "opportunityid", 1))

	page, err := s.RetrieveMultiple(ctx, md, fetch.New("opportunity").Where("name", fetch.OpEqual, "Renewal"))
	if err != nil || len(page.Records) != 1 {
		t.Fatalf("RetrieveMultiple() = %v, %v", page, err)
	}
	id := page.Records[0]["opportunityid"].(string)

	reg := metadatatest.Registry(t)
	action, err := reg.Action("WinOpportunity")
	if err != nil {
		t.Fatalf("Action() error: %v", err)
	}
	req := &wire.ActionRequest{
		Action: action,
		Parameters: wire.Record{
			"Status": 3,
			"OpportunityClose": wire.Record{
				"opportunityid": wire.Record{wire.KeyID: id, wire.KeyLogicalName: "opportunity"},
			},
		},
	}

	if _, err := s.Execute(ctx, req); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	rec, _ := s.Record("opportunity", id)
	if got, ok := wireText(rec["statecode"]); !ok || got != "1" {
		t.Errorf("statecode = %v", rec["statecode"])
	}
	if got, ok := wireText(rec["statuscode"]); !ok || got != "3" {
		t.Errorf("statuscode = %v", rec["statuscode"])
	}

	if _, err := s.Execute(ctx, req); !dataverse.IsService(err) {
		t.Errorf("closing a closed record should fail, got %v", err)
	}

	req.Action = &metadata.ActionMetadata{OperationName: "QualifyLead"}
	if _, err := s.Execute(ctx, req); !dataverse.IsService(err) {
		t.Errorf("unregistered action should fail, got %v", err)
	}
}

func wireText(v any) (string, bool) {
	switch n := v.(type) {
	case interface{ String() string }:
		return n.String(), true
	case string:
		return n, true
	}
	return "", false
}

func TestAssociateDisassociate(t *testing.T) {
	reg := metadatatest.Registry(t)
	account, _ := reg.Entity("account")
	contact, _ := reg.Entity("contact")
	s := New(reg)
	ctx := context.Background()

	accIDs, err := s.Seed("account", wire.Record{"name": "Contoso"})
	if err != nil {
		t.Fatalf("Seed(account) error: %v", err)
	}
	conIDs, err := s.Seed("contact", wire.Record{"fullname": "Ann"}, wire.Record{"fullname": "Bob"})
	if err != nil {
		t.Fatalf("Seed(contact) error: %v", err)
	}
	targets := []wire.Target{{Entity: contact, ID: conIDs[0]}, {Entity: contact, ID: conIDs[1]}}

	if err := s.Associate(ctx, account, accIDs[0], "contact_customer_accounts", targets); err != nil {
		t.Fatalf("Associate() error: %v", err)
	}
	// Associating again does not duplicate links.
	if err := s.Associate(ctx, account, accIDs[0], "contact_customer_accounts", targets[:1]); err != nil {
		t.Fatalf("Associate() error: %v", err)
	}
	if got := s.Related("account", accIDs[0], "contact_customer_accounts"); len(got) != 2 {
		t.Fatalf("related = %v", got)
	}

	if err := s.Disassociate(ctx, account, accIDs[0], "contact_customer_accounts", targets[:1]); err != nil {
		t.Fatalf("Disassociate() error: %v", err)
	}
	got := s.Related("account", accIDs[0], "contact_customer_accounts")
	if len(got) != 1 || !got[0].Equal(dataverse.NewEntityReference("contact", conIDs[1])) {
		t.Errorf("related after disassociate = %v", got)
	}

	missing := []wire.Target{{Entity: contact, ID: "00000000-0000-0000-0000-000000000009"}}
	if err := s.Associate(ctx, account, accIDs[0], "contact_customer_accounts", missing); !dataverse.IsService(err) {
		t.Errorf("expected service error for missing target, got %v", err)
	}
}

func TestLoadFixtures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	doc := `
account:
  - accountid: "{6F1C2A8E-5B1D-4F0A-9C3E-000000000001}"
    name: Contoso
    creditlimit: 1000.25
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(metadatatest.Registry(t))
	if err := s.LoadFixtures(path); err != nil {
		t.Fatalf("LoadFixtures() error: %v", err)
	}
	rec, ok := s.Record("account", accountID)
	if !ok {
		t.Fatal("fixture record not stored under its normalised id")
	}
	if rec["name"] != "Contoso" {
		t.Errorf("name = %v", rec["name"])
	}

	if err := s.LoadFixtures(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing fixtures file")
	}
}

func TestCancelledContext(t *testing.T) {
	s, md := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Create(ctx, md, wire.Record{"name": "x"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Create() error = %v, want context.Canceled", err)
	}
	if len(s.Calls()) != 0 {
		t.Error("cancelled call should not be recorded")
	}
}
