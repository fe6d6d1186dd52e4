// Package fetch implements the bounded declarative query grammar: a single
// entity with projected attributes, ordering, one flat filter of conditions,
// and top/page paging. Link entities, nested filters and aggregates are
// rejected rather than ignored.
package fetch

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/scottdurow/dataverseify/pkg/dataverse"
)

// Operator is a condition operator.
type Operator string

const (
	OpEqual        Operator = "eq"
	OpNotEqual     Operator = "ne"
	OpLessThan     Operator = "lt"
	OpLessEqual    Operator = "le"
	OpGreaterThan  Operator = "gt"
	OpGreaterEqual Operator = "ge"
	OpNull         Operator = "null"
	OpNotNull      Operator = "not-null"
)

// TakesValue reports whether the operator compares against a literal.
func (o Operator) TakesValue() bool {
	return o != OpNull && o != OpNotNull
}

// Valid reports whether the operator is part of the supported grammar.
func (o Operator) Valid() bool {
	switch o {
	case OpEqual, OpNotEqual, OpLessThan, OpLessEqual, OpGreaterThan, OpGreaterEqual, OpNull, OpNotNull:
		return true
	}
	return false
}

// FilterType combines conditions.
type FilterType string

const (
	FilterAnd FilterType = "and"
	FilterOr  FilterType = "or"
)

// Query is a parsed fetch expression.
type Query struct {
	XMLName      xml.Name `xml:"fetch"`
	Top          int      `xml:"top,attr,omitempty"`
	Count        int      `xml:"count,attr,omitempty"`
	Page         int      `xml:"page,attr,omitempty"`
	PagingCookie string   `xml:"paging-cookie,attr,omitempty"`
	Entity       Entity   `xml:"entity"`
}

// Entity is the queried entity element.
type Entity struct {
	Name       string      `xml:"name,attr"`
	Attributes []Attribute `xml:"attribute"`
	Orders     []Order     `xml:"order"`
	Filter     *Filter     `xml:"filter,omitempty"`

	Unsupported []element `xml:",any"`
}

// Attribute is a projected column.
type Attribute struct {
	Name string `xml:"name,attr"`
}

// Order sorts the result by one attribute.
type Order struct {
	Attribute  string `xml:"attribute,attr"`
	Descending bool   `xml:"descending,attr,omitempty"`
}

// Filter is a flat list of conditions.
type Filter struct {
	Type       FilterType  `xml:"type,attr,omitempty"`
	Conditions []Condition `xml:"condition"`

	Unsupported []element `xml:",any"`
}

// Condition compares one attribute with a literal.
type Condition struct {
	Attribute string   `xml:"attribute,attr"`
	Operator  Operator `xml:"operator,attr"`
	Value     string   `xml:"value,attr,omitempty"`
}

type element struct {
	XMLName xml.Name
}

// Parse reads and validates a fetch expression.
func Parse(text string) (*Query, error) {
	var q Query
	if err := xml.Unmarshal([]byte(text), &q); err != nil {
		return nil, dataverse.NewValidationError("failed to parse fetch expression", err).WithOperation("fetch")
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return &q, nil
}

// Validate checks the query against the supported grammar.
func (q *Query) Validate() error {
	invalid := func(format string, args ...any) error {
		return dataverse.NewValidationError(fmt.Sprintf(format, args...), nil).
			WithLogicalName(q.Entity.Name).
			WithOperation("fetch")
	}

	if q.Entity.Name == "" {
		return invalid("fetch requires an entity name")
	}
	if q.Top < 0 || q.Count < 0 || q.Page < 0 {
		return invalid("top, count and page must not be negative")
	}
	if q.Top > 0 && (q.Count > 0 || q.Page > 0) {
		return invalid("top cannot be combined with count or page")
	}
	if len(q.Entity.Unsupported) > 0 {
		return invalid("unsupported element <%s>", q.Entity.Unsupported[0].XMLName.Local)
	}
	for _, a := range q.Entity.Attributes {
		if a.Name == "" {
			return invalid("attribute requires a name")
		}
	}
	for _, o := range q.Entity.Orders {
		if o.Attribute == "" {
			return invalid("order requires an attribute")
		}
	}

	f := q.Entity.Filter
	if f == nil {
		return nil
	}
	if len(f.Unsupported) > 0 {
		return invalid("unsupported element <%s> in filter", f.Unsupported[0].XMLName.Local)
	}
	if f.Type != "" && f.Type != FilterAnd && f.Type != FilterOr {
		return invalid("unsupported filter type %q", f.Type)
	}
	for _, c := range f.Conditions {
		if c.Attribute == "" {
			return invalid("condition requires an attribute")
		}
		if !c.Operator.Valid() {
			return invalid("unsupported operator %q on %s", c.Operator, c.Attribute)
		}
		if !c.Operator.TakesValue() && c.Value != "" {
			return invalid("operator %s on %s takes no value", c.Operator, c.Attribute)
		}
	}
	return nil
}

// Columns returns the projected attribute names, or nil when the query
// projects every column.
func (q *Query) Columns() []string {
	if len(q.Entity.Attributes) == 0 {
		return nil
	}
	cols := make([]string, len(q.Entity.Attributes))
	for i, a := range q.Entity.Attributes {
		cols[i] = a.Name
	}
	return cols
}

// Conditions returns the filter conditions, if any.
func (q *Query) Conditions() []Condition {
	if q.Entity.Filter == nil {
		return nil
	}
	return q.Entity.Filter.Conditions
}

// MatchAll reports whether all conditions must hold.
func (q *Query) MatchAll() bool {
	return q.Entity.Filter == nil || q.Entity.Filter.Type != FilterOr
}

// Clone returns a deep copy.
func (q *Query) Clone() *Query {
	out := *q
	out.Entity.Attributes = append([]Attribute(nil), q.Entity.Attributes...)
	out.Entity.Orders = append([]Order(nil), q.Entity.Orders...)
	out.Entity.Unsupported = nil
	if q.Entity.Filter != nil {
		f := *q.Entity.Filter
		f.Conditions = append([]Condition(nil), q.Entity.Filter.Conditions...)
		f.Unsupported = nil
		out.Entity.Filter = &f
	}
	return &out
}

// XML renders the query.
func (q *Query) XML() (string, error) {
	data, err := xml.MarshalIndent(q, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to render fetch expression: %w", err)
	}
	return string(data), nil
}

// String renders the query on one line, for logs.
func (q *Query) String() string {
	data, err := xml.Marshal(q)
	if err != nil {
		return "<fetch/>"
	}
	return strings.TrimSpace(string(data))
}
