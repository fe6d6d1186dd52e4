package client

// ColumnSet selects the attributes a retrieve returns.
type ColumnSet struct {
	all     bool
	columns []string
}

// AllColumns selects every declared attribute.
func AllColumns() ColumnSet {
	return ColumnSet{all: true}
}

// Columns selects the named attributes. Names the schema does not declare
// are dropped from the result.
func Columns(names ...string) ColumnSet {
	return ColumnSet{columns: append([]string(nil), names...)}
}

// All reports whether the set selects every attribute.
func (cs ColumnSet) All() bool {
	return cs.all
}

// Names returns the selected names, nil for AllColumns.
func (cs ColumnSet) Names() []string {
	if cs.all {
		return nil
	}
	return cs.columns
}
