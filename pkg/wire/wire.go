// Package wire defines the raw shapes exchanged with a transport. Values are
// JSON-compatible: json.Number or float64 for numbers, string, bool, nil,
// map[string]any for nested records and []any for sequences.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/scottdurow/dataverseify/pkg/metadata"
)

// Keys used inside wire records.
const (
	KeyID                    = "id"
	KeyLogicalName           = "logicalName"
	KeyName                  = "name"
	KeyPartyID               = "partyid"
	KeyParticipationTypeMask = "participationtypemask"
	KeyAddressUsed           = "addressused"
	KeyODataType             = "@odata.type"
)

// Record is one wire-level entity or nested payload.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Page is one page of wire records returned by a query.
type Page struct {
	Records      []Record `json:"records"`
	MoreRecords  bool     `json:"moreRecords"`
	PagingCookie string   `json:"pagingCookie,omitempty"`

	// TotalRecordCount is -1 when the service does not report it.
	TotalRecordCount int `json:"totalRecordCount"`
}

// ActionRequest is a validated and coerced action invocation.
type ActionRequest struct {
	Action     *metadata.ActionMetadata
	Parameters Record

	// Target is the record a bound action is invoked on, if any.
	Target *Target
}

// Target identifies a record at the wire level.
type Target struct {
	Entity *metadata.EntityMetadata
	ID     string
}

// Decode parses JSON into a Record, keeping numbers as json.Number so that
// decimals and big integers keep their exact text.
func Decode(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, nil
}

// Normalize round-trips a value through JSON so that it contains only the
// shapes a real transport would produce.
func Normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return out, nil
}
