package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/metadata/metadatatest"
	"github.com/scottdurow/dataverseify/pkg/workflow"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop(), WithRegistry(metadatatest.Registry(t)))
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	return eng
}

func winRun(count, top int) workflow.GateInput {
	return workflow.GateInput{
		Definition: "close-opportunities",
		Entity:     "opportunity",
		Action:     "WinOpportunity",
		Count:      count,
		Top:        top,
	}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	if len(policies) != 2 || policies[0].Name != "declared-action" || policies[1].Name != "run-bound" {
		t.Fatalf("ListPolicies() = %+v", policies)
	}
	for _, p := range policies {
		if !p.Builtin || !p.Enabled {
			t.Errorf("built-in policy %s = %+v", p.Name, p)
		}
	}
}

func TestAllow(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name string
		in   workflow.GateInput
		want string
	}{
		{name: "within bound", in: winRun(2, 10)},
		{name: "at bound", in: winRun(10, 10)},
		{name: "over bound", in: winRun(11, 10), want: "more than its bound of 10"},
		{name: "unbounded", in: winRun(3, 0), want: "no record bound"},
		{
			name: "undeclared action",
			in: func() workflow.GateInput {
				in := winRun(1, 10)
				in.Action = "QualifyLead"
				return in
			}(),
			want: "action QualifyLead is not declared",
		},
		{
			name: "undeclared entity",
			in: func() workflow.GateInput {
				in := winRun(1, 10)
				in.Entity = "invoice"
				return in
			}(),
			want: "entity invoice is not declared",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eng.Allow(context.Background(), tt.in)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Allow() error: %v", err)
				}
				return
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

func TestEvaluateWarnsAtBound(t *testing.T) {
	eng := newTestEngine(t)

	decision, err := eng.Evaluate(context.Background(), Input{Run: RunInput{
		Definition: "close-opportunities",
		Entity:     "opportunity",
		Action:     "WinOpportunity",
		Count:      10,
		Top:        10,
	}})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if !decision.Allowed || len(decision.Violations) != 0 {
		t.Errorf("decision = %+v", decision)
	}
	if len(decision.Warnings) != 1 || decision.Warnings[0].Policy != "run-bound" || decision.Warnings[0].Severity != SeverityWarning {
		t.Errorf("warnings = %+v", decision.Warnings)
	}
	if len(decision.EvaluatedPolicies) != 2 {
		t.Errorf("evaluated = %v", decision.EvaluatedPolicies)
	}
}

func TestEngineWithoutRegistry(t *testing.T) {
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	in := winRun(1, 10)
	in.Action = "QualifyLead"
	if err := eng.Allow(context.Background(), in); err != nil {
		t.Errorf("declared-action policy should be inert without a registry: %v", err)
	}
	if err := eng.Allow(context.Background(), winRun(11, 10)); err == nil {
		t.Error("run-bound policy should apply without a registry")
	}
}

const smallRunsPolicy = `# Bulk wins are limited to five records.
package dvctl.custom.small

import rego.v1

deny contains msg if {
	input.run.action == "WinOpportunity"
	input.run.count > 5
	msg := sprintf("%d opportunities is too many to win at once", [input.run.count])
}
`

const auditPolicyJSON = `{
  "name": "audit",
  "severity": "warning",
  "rego": "package dvctl.custom.audit\n\nimport rego.v1\n\ndeny contains \"bulk run\" if input.run.count > 1\n"
}`

func writePolicy(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPolicies(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "small-runs.rego", smallRunsPolicy)
	writePolicy(t, dir, "audit.json", auditPolicyJSON)
	writePolicy(t, dir, "README.md", "not a policy")

	eng := newTestEngine(t)
	ctx := context.Background()
	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error: %v", err)
	}

	p, err := eng.GetPolicy("small-runs")
	if err != nil {
		t.Fatalf("GetPolicy() error: %v", err)
	}
	if p.Description != "Bulk wins are limited to five records." || p.Severity != SeverityError {
		t.Errorf("policy = %+v", p)
	}

	err = eng.Allow(ctx, winRun(6, 10))
	if !dataverse.IsValidation(err) || !strings.Contains(err.Error(), "6 opportunities is too many") {
		t.Fatalf("Allow() error = %v", err)
	}

	decision, err := eng.Evaluate(ctx, Input{Run: RunInput{Entity: "opportunity", Action: "WinOpportunity", Count: 2, Top: 10}})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if !decision.Allowed || len(decision.Warnings) != 1 || decision.Warnings[0].Message != "bulk run" {
		t.Errorf("decision = %+v", decision)
	}

	if err := eng.DisablePolicy("small-runs"); err != nil {
		t.Fatalf("DisablePolicy() error: %v", err)
	}
	if err := eng.Allow(ctx, winRun(6, 10)); err != nil {
		t.Errorf("disabled policy still denies: %v", err)
	}
	if err := eng.EnablePolicy("missing"); err == nil {
		t.Error("expected error enabling unknown policy")
	}
}

func TestLoadPoliciesErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "bad rego", file: "broken.rego", content: "package x\n\ndeny contains if {"},
		{name: "replaces builtin", file: "run-bound.rego", content: smallRunsPolicy},
		{name: "bad json", file: "bad.json", content: `{"name": "bad"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writePolicy(t, t.TempDir(), tt.file, tt.content)
			eng := newTestEngine(t)
			if err := eng.LoadPolicies(context.Background(), []string{path}); err == nil {
				t.Fatal("expected error")
			}
			if len(eng.ListPolicies()) != 2 {
				t.Errorf("policies = %+v", eng.ListPolicies())
			}
		})
	}
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "small-runs.rego", smallRunsPolicy)

	eng := newTestEngine(t)
	ctx := context.Background()
	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error: %v", err)
	}
	if err := eng.Allow(ctx, winRun(6, 10)); err == nil {
		t.Fatal("expected denial before reload")
	}

	relaxed := strings.Replace(smallRunsPolicy, "count > 5", "count > 8", 1)
	if err := os.WriteFile(path, []byte(relaxed), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := eng.Reload(ctx); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if err := eng.Allow(ctx, winRun(6, 10)); err != nil {
		t.Errorf("reloaded policy still denies: %v", err)
	}

	if err := os.WriteFile(path, []byte("package broken\n\ndeny contains if {"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := eng.Reload(ctx); err == nil {
		t.Fatal("expected reload error")
	}
	if _, err := eng.GetPolicy("small-runs"); err != nil {
		t.Errorf("failed reload dropped previous policies: %v", err)
	}
}
