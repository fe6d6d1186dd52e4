package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/fetch"
	"github.com/scottdurow/dataverseify/pkg/metadata"
	"github.com/scottdurow/dataverseify/pkg/metadata/metadatatest"
	"github.com/scottdurow/dataverseify/pkg/wire"
)

const (
	accountID = "6f1c2a8e-5b1d-4f0a-9c3e-000000000001"
	oppID     = "6f1c2a8e-5b1d-4f0a-9c3e-000000000003"
)

type captured struct {
	method string
	path   string
	query  string
	auth   string
	header http.Header
	body   map[string]any
}

func newTestTransport(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Transport, *metadata.Registry, *[]captured) {
	t.Helper()
	var calls []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := captured{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			header: r.Header.Clone(),
		}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			if err := json.Unmarshal(data, &c.body); err != nil {
				t.Errorf("request body is not JSON: %v", err)
			}
		}
		calls = append(calls, c)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	reg := metadatatest.Registry(t)
	tr, err := New(srv.URL, reg, WithTokenSource(StaticToken("secret")))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return tr, reg, &calls
}

func entity(t *testing.T, reg *metadata.Registry, name string) *metadata.EntityMetadata {
	t.Helper()
	md, err := reg.Entity(name)
	if err != nil {
		t.Fatalf("Entity(%s) error: %v", name, err)
	}
	return md
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("org.crm.dynamics.com", nil); err == nil {
		t.Error("expected error for url without scheme")
	}
	tr, err := New("https://org.crm.dynamics.com", nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if tr.baseURL.Path != DefaultAPIPath {
		t.Errorf("path = %s", tr.baseURL.Path)
	}
}

func TestCreateBindsLookups(t *testing.T) {
	tr, reg, calls := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("OData-EntityId", "https://org/api/data/v9.2/opportunities("+oppID+")")
		w.WriteHeader(http.StatusNoContent)
	})

	id, err := tr.Create(context.Background(), entity(t, reg, "opportunity"), wire.Record{
		"name":       "Big deal",
		"customerid": wire.Record{wire.KeyID: accountID, wire.KeyLogicalName: "account"},
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if id != oppID {
		t.Errorf("id = %s", id)
	}

	c := (*calls)[0]
	if c.method != http.MethodPost || c.path != "/api/data/v9.2/opportunities" {
		t.Errorf("request = %s %s", c.method, c.path)
	}
	if c.auth != "Bearer secret" {
		t.Errorf("Authorization = %q", c.auth)
	}
	if c.body["customerid_account@odata.bind"] != "/accounts("+accountID+")" {
		t.Errorf("body = %v", c.body)
	}
	if _, ok := c.body["customerid@odata.bind"]; ok {
		t.Error("multi-target lookup bound without its target qualifier")
	}
	if _, ok := c.body["customerid"]; ok {
		t.Error("raw lookup sent alongside its binding")
	}
}

func TestUpdateUsesIfMatch(t *testing.T) {
	tr, reg, calls := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if err := tr.Update(context.Background(), entity(t, reg, "account"), accountID, wire.Record{"name": "Fabrikam"}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	c := (*calls)[0]
	if c.method != http.MethodPatch || c.header.Get("If-Match") != "*" {
		t.Errorf("request = %s If-Match=%q", c.method, c.header.Get("If-Match"))
	}
	if !strings.HasSuffix(c.path, "/accounts("+accountID+")") {
		t.Errorf("path = %s", c.path)
	}
}

func TestRetrieveTranslatesLookups(t *testing.T) {
	tr, reg, calls := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"opportunityid": "`+oppID+`",
			"name": "Big deal",
			"estimatedvalue": 1000.25,
			"_customerid_value": "`+accountID+`",
			"_customerid_value@Microsoft.Dynamics.CRM.lookuplogicalname": "account",
			"_customerid_value@OData.Community.Display.V1.FormattedValue": "Contoso"
		}`)
	})

	rec, err := tr.Retrieve(context.Background(), entity(t, reg, "opportunity"), oppID, []string{"name", "customerid", "estimatedvalue"})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if q := (*calls)[0].query; !strings.Contains(q, "_customerid_value") || !strings.Contains(q, "opportunityid") {
		t.Errorf("query = %s", q)
	}
	ref, ok := rec["customerid"].(map[string]any)
	if !ok || ref[wire.KeyID] != accountID || ref[wire.KeyLogicalName] != "account" || ref[wire.KeyName] != "Contoso" {
		t.Errorf("customerid = %#v", rec["customerid"])
	}
	if rec["estimatedvalue"] != json.Number("1000.25") {
		t.Errorf("estimatedvalue = %#v", rec["estimatedvalue"])
	}
}

func TestRetrieveMultipleSendsFetchXML(t *testing.T) {
	tr, reg, calls := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"@Microsoft.Dynamics.CRM.morerecords": true,
			"value": [{"opportunityid": "`+oppID+`", "name": "Big deal"}]
		}`)
	})

	q := fetch.New("opportunity").WithTop(10).Select("name").Where("statecode", fetch.OpEqual, "0")
	page, err := tr.RetrieveMultiple(context.Background(), entity(t, reg, "opportunity"), q)
	if err != nil {
		t.Fatalf("RetrieveMultiple() error: %v", err)
	}
	if len(page.Records) != 1 || !page.MoreRecords || page.TotalRecordCount != -1 {
		t.Errorf("page = %+v", page)
	}
	if !strings.Contains((*calls)[0].query, "fetchXml=") {
		t.Errorf("query = %s", (*calls)[0].query)
	}
}

func TestServiceErrors(t *testing.T) {
	tr, reg, _ := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"code":"0x80040217","message":"account With Id = x Does Not Exist"}}`)
	})

	err := tr.Delete(context.Background(), entity(t, reg, "account"), accountID)
	var dvErr *dataverse.Error
	if !errors.As(err, &dvErr) {
		t.Fatalf("expected *dataverse.Error, got %v", err)
	}
	if dvErr.Kind != dataverse.KindService || dvErr.StatusCode != http.StatusNotFound || dvErr.Code != "0x80040217" {
		t.Errorf("error = %+v", dvErr)
	}
	if !strings.Contains(dvErr.Message, "Does Not Exist") {
		t.Errorf("message = %q", dvErr.Message)
	}
}

func TestExecute(t *testing.T) {
	tr, reg, calls := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			io.WriteString(w, `{"UserId": "`+accountID+`"}`)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	win, _ := reg.Action("WinOpportunity")
	_, err := tr.Execute(context.Background(), &wire.ActionRequest{
		Action: win,
		Parameters: wire.Record{
			"Status": 3,
			"OpportunityClose": wire.Record{
				wire.KeyODataType: "Microsoft.Dynamics.CRM.opportunityclose",
				"subject":         "Won",
				"opportunityid":   wire.Record{wire.KeyID: oppID, wire.KeyLogicalName: "opportunity"},
			},
		},
	})
	if err != nil {
		t.Fatalf("Execute(WinOpportunity) error: %v", err)
	}
	c := (*calls)[0]
	if c.method != http.MethodPost || !strings.HasSuffix(c.path, "/WinOpportunity") {
		t.Errorf("request = %s %s", c.method, c.path)
	}
	oc := c.body["OpportunityClose"].(map[string]any)
	if oc["opportunityid@odata.bind"] != "/opportunities("+oppID+")" {
		t.Errorf("OpportunityClose = %v", oc)
	}

	who, _ := reg.Action("WhoAmI")
	resp, err := tr.Execute(context.Background(), &wire.ActionRequest{Action: who, Parameters: wire.Record{}})
	if err != nil {
		t.Fatalf("Execute(WhoAmI) error: %v", err)
	}
	if resp["UserId"] != accountID {
		t.Errorf("response = %v", resp)
	}
	if c := (*calls)[1]; c.method != http.MethodGet || !strings.HasSuffix(c.path, "/WhoAmI()") {
		t.Errorf("function request = %s %s", c.method, c.path)
	}
}

func TestFunctionCallAliases(t *testing.T) {
	path, query, err := functionCall("RetrieveVersion", map[string]any{"B": true, "A": "x"})
	if err != nil {
		t.Fatalf("functionCall() error: %v", err)
	}
	if path != "RetrieveVersion(A=@p1,B=@p2)" {
		t.Errorf("path = %s", path)
	}
	if query.Get("@p1") != `"x"` || query.Get("@p2") != "true" {
		t.Errorf("query = %v", query)
	}
}

func TestPartyListRoundTrip(t *testing.T) {
	tr, reg, _ := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {})
	md := entity(t, reg, "email")

	body, err := tr.toWebAPI(md, wire.Record{
		"to": []any{
			map[string]any{
				wire.KeyPartyID:               map[string]any{wire.KeyID: accountID, wire.KeyLogicalName: "account"},
				wire.KeyParticipationTypeMask: 2,
			},
		},
	})
	if err != nil {
		t.Fatalf("toWebAPI() error: %v", err)
	}
	parties := body["email_activity_parties"].([]any)
	party := parties[0].(map[string]any)
	if party["partyid_account@odata.bind"] != "/accounts("+accountID+")" {
		t.Errorf("party = %v", party)
	}

	rec := fromWebAPI(md, map[string]any{
		"email_activity_parties": []any{
			map[string]any{
				"participationtypemask": json.Number("2"),
				"_partyid_value":        accountID,
				"_partyid_value@Microsoft.Dynamics.CRM.lookuplogicalname": "account",
			},
			map[string]any{"participationtypemask": json.Number("1"), "addressused": "a@b.c"},
		},
	})
	to := rec["to"].([]any)
	if len(to) != 1 {
		t.Fatalf("to = %v", to)
	}
	from := rec["from"].([]any)
	if len(from) != 1 || from[0].(map[string]any)["addressused"] != "a@b.c" {
		t.Errorf("from = %v", from)
	}
}

func TestLookupBindingKeys(t *testing.T) {
	tr, reg, _ := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {})
	contactRef := wire.Record{wire.KeyID: accountID, wire.KeyLogicalName: "contact"}

	tests := []struct {
		name   string
		entity string
		rec    wire.Record
		want   map[string]any
	}{
		{
			name:   "single target",
			entity: "account",
			rec:    wire.Record{"parentaccountid": wire.Record{wire.KeyID: accountID, wire.KeyLogicalName: "account"}},
			want:   map[string]any{"parentaccountid@odata.bind": "/accounts(" + accountID + ")"},
		},
		{
			name:   "single target cleared",
			entity: "account",
			rec:    wire.Record{"parentaccountid": nil},
			want:   map[string]any{"parentaccountid@odata.bind": nil},
		},
		{
			name:   "customer lookup to contact",
			entity: "opportunity",
			rec:    wire.Record{"customerid": contactRef},
			want:   map[string]any{"customerid_contact@odata.bind": "/contacts(" + accountID + ")"},
		},
		{
			name:   "regarding cleared",
			entity: "email",
			rec:    wire.Record{"regardingobjectid": nil},
			want: map[string]any{
				"regardingobjectid_account@odata.bind":     nil,
				"regardingobjectid_contact@odata.bind":     nil,
				"regardingobjectid_opportunity@odata.bind": nil,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := tr.toWebAPI(entity(t, reg, tt.entity), tt.rec)
			if err != nil {
				t.Fatalf("toWebAPI() error: %v", err)
			}
			if len(body) != len(tt.want) {
				t.Fatalf("body = %v, want %v", body, tt.want)
			}
			for k, v := range tt.want {
				got, ok := body[k]
				if !ok || got != v {
					t.Errorf("body[%s] = %v, want %v", k, got, v)
				}
			}
		})
	}
}

func TestEmptyPartyListClearsParties(t *testing.T) {
	tr, reg, _ := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {})
	md := entity(t, reg, "email")

	body, err := tr.toWebAPI(md, wire.Record{"to": []any{}, "from": []any{}})
	if err != nil {
		t.Fatalf("toWebAPI() error: %v", err)
	}
	parties, ok := body["email_activity_parties"].([]any)
	if !ok || len(parties) != 0 {
		t.Errorf("email_activity_parties = %#v, want empty collection", body["email_activity_parties"])
	}

	body, err = tr.toWebAPI(md, wire.Record{"subject": "Hello"})
	if err != nil {
		t.Fatalf("toWebAPI() error: %v", err)
	}
	if _, ok := body["email_activity_parties"]; ok {
		t.Error("absent party lists should not touch the parties collection")
	}
}

func TestPartialPartyUpdateKeepsOtherParties(t *testing.T) {
	const (
		emailID = "6f1c2a8e-5b1d-4f0a-9c3e-000000000010"
		userID  = "6f1c2a8e-5b1d-4f0a-9c3e-000000000020"
	)
	tr, reg, calls := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			io.WriteString(w, `{
				"activityid": "`+emailID+`",
				"email_activity_parties": [
					{
						"participationtypemask": 1,
						"_partyid_value": "`+userID+`",
						"_partyid_value@Microsoft.Dynamics.CRM.lookuplogicalname": "systemuser"
					},
					{
						"participationtypemask": 2,
						"_partyid_value": "`+accountID+`",
						"_partyid_value@Microsoft.Dynamics.CRM.lookuplogicalname": "account"
					}
				]
			}`)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	md := entity(t, reg, "email")

	// Clearing only the recipients keeps the sender.
	if err := tr.Update(context.Background(), md, emailID, wire.Record{"to": []any{}}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if len(*calls) != 2 {
		t.Fatalf("calls = %d, want read then patch", len(*calls))
	}
	get, patch := (*calls)[0], (*calls)[1]
	if get.method != http.MethodGet || !strings.Contains(get.query, "expand") {
		t.Errorf("read = %s %s", get.method, get.query)
	}
	if patch.method != http.MethodPatch {
		t.Fatalf("second call = %s", patch.method)
	}
	parties, _ := patch.body["email_activity_parties"].([]any)
	if len(parties) != 1 {
		t.Fatalf("parties = %v", patch.body["email_activity_parties"])
	}
	kept := parties[0].(map[string]any)
	if kept["participationtypemask"] != float64(1) || kept["partyid_systemuser@odata.bind"] != "/systemusers("+userID+")" {
		t.Errorf("kept party = %v", kept)
	}

	// Replacing every party list needs no read.
	*calls = nil
	err := tr.Update(context.Background(), md, emailID, wire.Record{"to": []any{}, "from": []any{}})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if len(*calls) != 1 || (*calls)[0].method != http.MethodPatch {
		t.Errorf("calls = %+v", *calls)
	}
}
