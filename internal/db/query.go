package db

import (
	"fmt"
	"sort"

	"orchestra/internal/errors"
	"orchestra/internal/repository"
)

// listQuery describes how a table answers repository.Filter lookups
type listQuery struct {
	table     string
	columns   string
	createdAt string
	fields    map[string]string
}

// where builds the WHERE clause for a filter. Unknown condition fields are rejected
// so they never reach the SQL text.
func (q listQuery) where(filter repository.Filter) (string, []interface{}, error) {
	clause := " WHERE 1=1"
	args := []interface{}{}

	// stable order keeps the generated SQL deterministic
	names := make([]string, 0, len(filter.Conditions))
	for name := range filter.Conditions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		column, ok := q.fields[name]
		if !ok {
			return "", nil, errors.InvalidInput(name, "unknown filter field")
		}
		clause += fmt.Sprintf(" AND %s = ?", column)
		args = append(args, fmt.Sprint(filter.Conditions[name]))
	}

	if filter.CreatedAfter != nil {
		clause += fmt.Sprintf(" AND %s > ?", q.createdAt)
		args = append(args, filter.CreatedAfter.UTC())
	}
	if filter.CreatedBefore != nil {
		clause += fmt.Sprintf(" AND %s < ?", q.createdAt)
		args = append(args, filter.CreatedBefore.UTC())
	}

	return clause, args, nil
}

// selectSQL builds the full listing query including order and pagination
func (q listQuery) selectSQL(filter repository.Filter) (string, []interface{}, error) {
	where, args, err := q.where(filter)
	if err != nil {
		return "", nil, err
	}

	order := "ASC"
	if filter.Descending() {
		order = "DESC"
	}
	orderBy := q.createdAt
	if filter.OrderBy != "" {
		column, ok := q.fields[filter.OrderBy]
		if !ok && filter.OrderBy != q.createdAt {
			return "", nil, errors.InvalidInput("order_by", fmt.Sprintf("unknown field %q", filter.OrderBy))
		}
		if ok {
			orderBy = column
		}
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s %s, rowid %s", q.columns, q.table, where, orderBy, order, order)

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	} else if filter.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, filter.Offset)
	}

	return query, args, nil
}

func (q listQuery) countSQL(filter repository.Filter) (string, []interface{}, error) {
	where, args, err := q.where(filter)
	if err != nil {
		return "", nil, err
	}
	return "SELECT COUNT(*) FROM " + q.table + where, args, nil
}
