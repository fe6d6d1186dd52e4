package fetch

// New starts a query over an entity.
func New(entity string) *Query {
	return &Query{Entity: Entity{Name: entity}}
}

// WithTop bounds the number of returned records.
func (q *Query) WithTop(n int) *Query {
	q.Top = n
	return q
}

// WithPage requests a page of count records.
func (q *Query) WithPage(page, count int, cookie string) *Query {
	q.Page = page
	q.Count = count
	q.PagingCookie = cookie
	return q
}

// Select adds projected attributes.
func (q *Query) Select(attributes ...string) *Query {
	for _, a := range attributes {
		q.Entity.Attributes = append(q.Entity.Attributes, Attribute{Name: a})
	}
	return q
}

// OrderBy adds a sort order.
func (q *Query) OrderBy(attribute string, descending bool) *Query {
	q.Entity.Orders = append(q.Entity.Orders, Order{Attribute: attribute, Descending: descending})
	return q
}

// Where adds a condition to the filter.
func (q *Query) Where(attribute string, op Operator, value string) *Query {
	if q.Entity.Filter == nil {
		q.Entity.Filter = &Filter{}
	}
	q.Entity.Filter.Conditions = append(q.Entity.Filter.Conditions, Condition{
		Attribute: attribute,
		Operator:  op,
		Value:     value,
	})
	return q
}

// Any makes the filter match when any condition holds.
func (q *Query) Any() *Query {
	if q.Entity.Filter == nil {
		q.Entity.Filter = &Filter{}
	}
	q.Entity.Filter.Type = FilterOr
	return q
}
