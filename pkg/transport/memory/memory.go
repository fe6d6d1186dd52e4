// Package memory implements an in-process transport that stores wire records
// in memory. It backs offline runs of dvctl and the tests of the packages
// built on the service client.
package memory

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/scottdurow/dataverseify/pkg/coerce"
	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/fetch"
	"github.com/scottdurow/dataverseify/pkg/metadata"
	"github.com/scottdurow/dataverseify/pkg/wire"
)

// Error code returned for missing records.
const codeNotFound = "0x80040217"

// Operation names passed to failure hooks and recorded in the call log.
const (
	OpCreate           = "create"
	OpUpdate           = "update"
	OpDelete           = "delete"
	OpRetrieve         = "retrieve"
	OpRetrieveMultiple = "retrieveMultiple"
	OpAssociate        = "associate"
	OpDisassociate     = "disassociate"
	OpExecute          = "execute"
)

// Call is one operation received by the store.
type Call struct {
	Op          string
	LogicalName string
	ID          string
}

// ActionHandler serves an action or function invocation.
type ActionHandler func(ctx context.Context, s *Store, req *wire.ActionRequest) (wire.Record, error)

// FailureFunc decides whether a call fails. Returning a non-nil error makes
// the store return it instead of performing the call.
type FailureFunc func(call Call) error

// Store is an in-memory transport. It is safe for concurrent use.
type Store struct {
	registry *metadata.Registry

	mu       sync.Mutex
	tables   map[string]*table
	links    map[string][]dataverse.EntityReference
	handlers map[string]ActionHandler
	fail     FailureFunc
	calls    []Call
}

type table struct {
	order   []string
	records map[string]wire.Record
}

// New creates an empty store. The registry supplies primary id attributes and
// attribute types for query evaluation.
func New(registry *metadata.Registry) *Store {
	return &Store{
		registry: registry,
		tables:   make(map[string]*table),
		links:    make(map[string][]dataverse.EntityReference),
		handlers: make(map[string]ActionHandler),
	}
}

// RegisterAction installs the handler for an action or function name.
func (s *Store) RegisterAction(name string, h ActionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = h
}

// SetFailure installs a failure hook consulted before every call.
func (s *Store) SetFailure(fn FailureFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

// Calls returns the calls received so far.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CountCalls returns how many calls of an operation were received.
func (s *Store) CountCalls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Seed inserts wire records directly, bypassing the call log and failure
// hook. Records without a primary id get a new one.
func (s *Store) Seed(logicalName string, recs ...wire.Record) ([]string, error) {
	md, err := s.registry.Entity(logicalName)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		id, err := s.insert(md, rec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Record returns a copy of a stored record.
func (s *Store) Record(logicalName, id string) (wire.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[metadata.NormalizeTypeName(logicalName)]
	if !ok {
		return nil, false
	}
	rec, ok := t.records[dataverse.NormalizeID(id)]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Related returns the references associated with a record through a
// relationship.
func (s *Store) Related(logicalName, id, relationship string) []dataverse.EntityReference {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dataverse.EntityReference(nil), s.links[linkKey(logicalName, id, relationship)]...)
}

// LoadFixtures seeds the store from a YAML or JSON document mapping logical
// names to lists of wire records.
func (s *Store) LoadFixtures(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read fixtures: %w", err)
	}
	var doc map[string][]map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse fixtures: %w", err)
	}

	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, raw := range doc[name] {
			v, err := wire.Normalize(raw)
			if err != nil {
				return fmt.Errorf("fixture for %s: %w", name, err)
			}
			rec, _ := v.(map[string]any)
			if _, err := s.Seed(name, rec); err != nil {
				return fmt.Errorf("fixture for %s: %w", name, err)
			}
		}
	}
	return nil
}

func linkKey(logicalName, id, relationship string) string {
	return metadata.NormalizeTypeName(logicalName) + "|" + dataverse.NormalizeID(id) + "|" + relationship
}

func notFound(md *metadata.EntityMetadata, id string) error {
	return dataverse.NewServiceError(http.StatusNotFound,
		fmt.Sprintf("%s With Id = %s Does Not Exist", md.LogicalName, id), nil).
		WithCode(codeNotFound).
		WithLogicalName(md.LogicalName)
}

// begin records the call and consults the failure hook. Callers hold s.mu.
func (s *Store) begin(ctx context.Context, call Call) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.calls = append(s.calls, call)
	if s.fail != nil {
		return s.fail(call)
	}
	return nil
}

func (s *Store) table(logicalName string) *table {
	t, ok := s.tables[logicalName]
	if !ok {
		t = &table{records: make(map[string]wire.Record)}
		s.tables[logicalName] = t
	}
	return t
}

func (s *Store) insert(md *metadata.EntityMetadata, rec wire.Record) (string, error) {
	v, err := wire.Normalize(map[string]any(rec))
	if err != nil {
		return "", dataverse.NewServiceError(http.StatusBadRequest, "record is not serializable", err)
	}
	stored, _ := v.(map[string]any)
	if stored == nil {
		stored = make(map[string]any)
	}

	id, _ := stored[md.PrimaryIDAttribute].(string)
	if id == "" {
		id = uuid.NewString()
	}
	id = dataverse.NormalizeID(id)
	stored[md.PrimaryIDAttribute] = id

	t := s.table(md.LogicalName)
	if _, exists := t.records[id]; exists {
		return "", dataverse.NewServiceError(http.StatusPreconditionFailed, "a record with matching key values already exists", nil).
			WithLogicalName(md.LogicalName)
	}
	t.records[id] = stored
	t.order = append(t.order, id)
	return id, nil
}

// Create stores a new record and returns its id.
func (s *Store) Create(ctx context.Context, md *metadata.EntityMetadata, rec wire.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, Call{Op: OpCreate, LogicalName: md.LogicalName}); err != nil {
		return "", err
	}
	return s.insert(md, rec)
}

// Update merges the attributes of rec into an existing record.
func (s *Store) Update(ctx context.Context, md *metadata.EntityMetadata, id string, rec wire.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id = dataverse.NormalizeID(id)
	if err := s.begin(ctx, Call{Op: OpUpdate, LogicalName: md.LogicalName, ID: id}); err != nil {
		return err
	}
	stored, ok := s.table(md.LogicalName).records[id]
	if !ok {
		return notFound(md, id)
	}
	v, err := wire.Normalize(map[string]any(rec))
	if err != nil {
		return dataverse.NewServiceError(http.StatusBadRequest, "record is not serializable", err)
	}
	for k, val := range v.(map[string]any) {
		if k == md.PrimaryIDAttribute {
			continue
		}
		stored[k] = val
	}
	return nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, md *metadata.EntityMetadata, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id = dataverse.NormalizeID(id)
	if err := s.begin(ctx, Call{Op: OpDelete, LogicalName: md.LogicalName, ID: id}); err != nil {
		return err
	}
	t := s.table(md.LogicalName)
	if _, ok := t.records[id]; !ok {
		return notFound(md, id)
	}
	delete(t.records, id)
	for i, existing := range t.order {
		if existing == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

// Retrieve returns one record projected to columns. A nil column list
// returns every stored attribute.
func (s *Store) Retrieve(ctx context.Context, md *metadata.EntityMetadata, id string, columns []string) (wire.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id = dataverse.NormalizeID(id)
	if err := s.begin(ctx, Call{Op: OpRetrieve, LogicalName: md.LogicalName, ID: id}); err != nil {
		return nil, err
	}
	rec, ok := s.table(md.LogicalName).records[id]
	if !ok {
		return nil, notFound(md, id)
	}
	return project(md, rec, columns), nil
}

func project(md *metadata.EntityMetadata, rec wire.Record, columns []string) wire.Record {
	if columns == nil {
		return rec.Clone()
	}
	out := wire.Record{md.PrimaryIDAttribute: rec[md.PrimaryIDAttribute]}
	for _, c := range columns {
		if v, ok := rec[c]; ok {
			out[c] = v
		}
	}
	return out
}

// RetrieveMultiple evaluates a query over the stored records in insertion
// order, then applies ordering and paging.
func (s *Store) RetrieveMultiple(ctx context.Context, md *metadata.EntityMetadata, q *fetch.Query) (*wire.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, Call{Op: OpRetrieveMultiple, LogicalName: md.LogicalName}); err != nil {
		return nil, err
	}

	t := s.table(md.LogicalName)
	var matched []wire.Record
	for _, id := range t.order {
		rec := t.records[id]
		if s.matches(md, rec, q) {
			matched = append(matched, rec)
		}
	}

	for i := len(q.Entity.Orders) - 1; i >= 0; i-- {
		o := q.Entity.Orders[i]
		tag := md.AttributeTypes[o.Attribute]
		sort.SliceStable(matched, func(a, b int) bool {
			c := compareStored(tag, matched[a][o.Attribute], matched[b][o.Attribute])
			if o.Descending {
				return c > 0
			}
			return c < 0
		})
	}

	page := &wire.Page{TotalRecordCount: len(matched)}
	switch {
	case q.Top > 0:
		if len(matched) > q.Top {
			matched = matched[:q.Top]
			page.MoreRecords = true
		}
	case q.Count > 0:
		n := q.Page
		if n < 1 {
			n = 1
		}
		start := (n - 1) * q.Count
		if start > len(matched) {
			start = len(matched)
		}
		end := start + q.Count
		if end < len(matched) {
			page.MoreRecords = true
			page.PagingCookie = strconv.Itoa(n + 1)
		} else {
			end = len(matched)
		}
		matched = matched[start:end]
	}

	cols := q.Columns()
	page.Records = make([]wire.Record, len(matched))
	for i, rec := range matched {
		page.Records[i] = project(md, rec, cols)
	}
	return page, nil
}

func (s *Store) matches(md *metadata.EntityMetadata, rec wire.Record, q *fetch.Query) bool {
	conds := q.Conditions()
	if len(conds) == 0 {
		return true
	}
	all := q.MatchAll()
	for _, c := range conds {
		ok := evaluate(md.AttributeTypes[c.Attribute], rec[c.Attribute], c)
		if all && !ok {
			return false
		}
		if !all && ok {
			return true
		}
	}
	return all
}

func evaluate(tag metadata.AttributeType, stored any, c fetch.Condition) bool {
	switch c.Operator {
	case fetch.OpNull:
		return stored == nil
	case fetch.OpNotNull:
		return stored != nil
	}
	cmp, ok := coerce.CompareWire(tag, stored, c.Value)
	if !ok {
		return false
	}
	switch c.Operator {
	case fetch.OpEqual:
		return cmp == 0
	case fetch.OpNotEqual:
		return cmp != 0
	case fetch.OpLessThan:
		return cmp < 0
	case fetch.OpLessEqual:
		return cmp <= 0
	case fetch.OpGreaterThan:
		return cmp > 0
	case fetch.OpGreaterEqual:
		return cmp >= 0
	}
	return false
}

// compareStored orders two stored values; nulls sort first.
func compareStored(tag metadata.AttributeType, a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	cmp, ok := coerce.CompareWire(tag, a, literalText(b))
	if !ok {
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
	return cmp
}

func literalText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		id, _ := t[wire.KeyID].(string)
		return id
	}
	return fmt.Sprint(v)
}

// Associate links related records to a record through a relationship.
func (s *Store) Associate(ctx context.Context, md *metadata.EntityMetadata, id, relationship string, related []wire.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id = dataverse.NormalizeID(id)
	if err := s.begin(ctx, Call{Op: OpAssociate, LogicalName: md.LogicalName, ID: id}); err != nil {
		return err
	}
	if _, ok := s.table(md.LogicalName).records[id]; !ok {
		return notFound(md, id)
	}

	key := linkKey(md.LogicalName, id, relationship)
	for _, target := range related {
		if _, ok := s.table(target.Entity.LogicalName).records[dataverse.NormalizeID(target.ID)]; !ok {
			return notFound(target.Entity, target.ID)
		}
		ref := dataverse.NewEntityReference(target.Entity.LogicalName, target.ID)
		exists := false
		for _, existing := range s.links[key] {
			if existing.Equal(ref) {
				exists = true
				break
			}
		}
		if !exists {
			s.links[key] = append(s.links[key], ref)
		}
	}
	return nil
}

// Disassociate removes links created by Associate. Unlinked targets are
// ignored.
func (s *Store) Disassociate(ctx context.Context, md *metadata.EntityMetadata, id, relationship string, related []wire.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id = dataverse.NormalizeID(id)
	if err := s.begin(ctx, Call{Op: OpDisassociate, LogicalName: md.LogicalName, ID: id}); err != nil {
		return err
	}
	if _, ok := s.table(md.LogicalName).records[id]; !ok {
		return notFound(md, id)
	}

	key := linkKey(md.LogicalName, id, relationship)
	kept := s.links[key][:0]
	for _, existing := range s.links[key] {
		remove := false
		for _, target := range related {
			if existing.Equal(dataverse.NewEntityReference(target.Entity.LogicalName, target.ID)) {
				remove = true
				break
			}
		}
		if !remove {
			kept = append(kept, existing)
		}
	}
	s.links[key] = kept
	return nil
}

// Execute dispatches an action to its registered handler. Handlers run with
// the store unlocked so they can call back into it.
func (s *Store) Execute(ctx context.Context, req *wire.ActionRequest) (wire.Record, error) {
	call := Call{Op: OpExecute, LogicalName: req.Action.OperationName}
	if req.Target != nil {
		call.ID = dataverse.NormalizeID(req.Target.ID)
	}

	s.mu.Lock()
	err := s.begin(ctx, call)
	h, ok := s.handlers[req.Action.OperationName]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dataverse.NewServiceError(http.StatusNotFound,
			fmt.Sprintf("Resource not found for the segment '%s'.", req.Action.OperationName), nil).
			WithCode("0x8006088a")
	}
	return h(ctx, s, req)
}

// SetState returns a handler for close actions such as WinOpportunity: it
// reads the entity parameter, follows its lookup to the record being closed,
// and sets that record's statecode and the requested statuscode.
func SetState(entityParam, lookup string, state int) ActionHandler {
	return func(ctx context.Context, s *Store, req *wire.ActionRequest) (wire.Record, error) {
		closeRec, _ := req.Parameters[entityParam].(wire.Record)
		if closeRec == nil {
			return nil, dataverse.NewServiceError(http.StatusBadRequest, entityParam+" parameter is required", nil)
		}
		ref, _ := closeRec[lookup].(wire.Record)
		if ref == nil {
			return nil, dataverse.NewServiceError(http.StatusBadRequest, entityParam+"."+lookup+" is required", nil)
		}
		logicalName, _ := ref[wire.KeyLogicalName].(string)
		id, _ := ref[wire.KeyID].(string)

		md, err := s.registry.Entity(logicalName)
		if err != nil {
			return nil, dataverse.NewServiceError(http.StatusBadRequest, "unknown entity "+logicalName, err)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		stored, ok := s.table(md.LogicalName).records[dataverse.NormalizeID(id)]
		if !ok {
			return nil, notFound(md, id)
		}
		if stored["statecode"] != nil {
			if current, _ := coerce.CompareWire(metadata.TypeOptionset, stored["statecode"], "0"); current != 0 {
				return nil, dataverse.NewServiceError(http.StatusBadRequest,
					fmt.Sprintf("the %s is already closed", md.LogicalName), nil).
					WithCode("0x80040203")
			}
		}
		stored["statecode"] = jsonValue(state)
		if status, ok := req.Parameters["Status"]; ok {
			stored["statuscode"] = jsonValue(status)
		}
		return wire.Record{}, nil
	}
}

// WhoAmI returns a handler for the WhoAmI function.
func WhoAmI(userID string) ActionHandler {
	return func(ctx context.Context, s *Store, req *wire.ActionRequest) (wire.Record, error) {
		return wire.Record{"UserId": userID}, nil
	}
}

func jsonValue(v any) any {
	n, _ := wire.Normalize(v)
	return n
}
