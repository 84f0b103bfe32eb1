package gormbackend

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/Alp4ka/deeppager"
)

// KeysetCursor continues a scroll after the last row of the previous batch.
// An empty cursor starts at the beginning of the dataset.
//
// IMPORTANT:
// The orderings it follows must end with a unique column, otherwise rows
// sharing the boundary values are skipped.
//
// A cursor is a list of triples
//
//	[(C1, O1, V1), (C2, O2, V2)... (Cn, On, Vn)]
//
// which toDNF expands into a complete filter.
type KeysetCursor struct {
	elements []CursorElement
}

func NewKeysetCursor(elements ...CursorElement) *KeysetCursor {
	return &KeysetCursor{
		elements: elements,
	}
}

// String - implements fmt.Stringer. Renders the filter the cursor applies.
func (c *KeysetCursor) String() string {
	sql, args := c.ToSQL()
	if len(args) == 0 {
		return sql
	}

	return fmt.Sprintf("%s %v", sql, args)
}

// IsEmpty - implements Cursor.
func (c *KeysetCursor) IsEmpty() bool {
	return c == nil || len(c.elements) == 0
}

// GetElements returns the compressed conditions of the cursor. They cannot be
// applied to a query as is; Apply expands them first.
func (c *KeysetCursor) GetElements() []CursorElement {
	if c == nil {
		return nil
	}

	return c.elements
}

// Apply - implements Cursor. Filters out every row up to the cursor position.
func (c *KeysetCursor) Apply(db *gorm.DB) *gorm.DB {
	exp := c.toDNF().toGORMExpression()
	if exp == nil {
		return db
	}

	return db.Clauses(exp)
}

// ToSQL renders the expanded filter with "?" placeholders.
func (c *KeysetCursor) ToSQL() (string, []driver.Value) {
	if c.IsEmpty() {
		return "TRUE", nil
	}

	return c.toDNF().toSQLClause()
}

// toDNF expands the triples into
//
//	(C1 O1 V1) OR (C1 = V1 AND C2 O2 V2) OR ...
//
// which selects exactly the rows after the cursor position in sort order.
func (c *KeysetCursor) toDNF() tDNF {
	if c.IsEmpty() {
		return nil
	}

	dnf := make(tDNF, 0, len(c.elements))
	for i := range c.elements {
		disjunct := make(tDisjunct, 0, i+1)
		for _, previous := range c.elements[:i] {
			disjunct = append(disjunct, previous.toConjunctWithEqualityCondition())
		}
		disjunct = append(disjunct, tConjunct(c.elements[i]))

		dnf = append(dnf, disjunct)
	}

	return dnf
}

// validate - implements Cursor.
func (c *KeysetCursor) validate(orderings deeppager.Orderings) error {
	if c.IsEmpty() {
		return nil
	}

	if len(c.elements) != len(orderings) {
		return fmt.Errorf("cursor column number mismatch")
	}

	for i, cond := range c.elements {
		orderBy := orderings[i]

		if cond.Column != orderBy.Column {
			return fmt.Errorf("unexpected cursor column '%s'", cond.Column)
		}

		if !cond.Operator.Valid() {
			return fmt.Errorf("invalid cursor operator '%s'", cond.Operator)
		} else if cond.Operator.ForOrdering() != orderBy.Direction {
			return fmt.Errorf("unexpected cursor operator '%s'", cond.Operator)
		}
	}

	return nil
}

// advance - implements Cursor. Positions the cursor on the last row. An
// empty batch keeps the position, so an exhausted scroll stays exhausted.
func (c *KeysetCursor) advance(orderings deeppager.Orderings, rows []map[string]any) (Cursor, error) {
	if len(rows) == 0 {
		return c, nil
	}
	last := lo.LastOrEmpty(rows)

	next := &KeysetCursor{elements: make([]CursorElement, 0, len(orderings))}
	for _, orderBy := range orderings {
		value, ok := columnValue(last, orderBy.Column)
		if !ok {
			return nil, fmt.Errorf("cannot find column '%s' met in ordering", orderBy.Column)
		}

		next.elements = append(next.elements, CursorElement{
			Column:   orderBy.Column,
			Value:    value,
			Operator: operatorFor(orderBy.Direction),
		})
	}

	return next, nil
}

// columnValue looks a sort column up in a scanned row, falling back to the
// unqualified name for "table.column" orderings.
func columnValue(row map[string]any, column string) (any, bool) {
	if value, ok := row[column]; ok {
		return plainValue(value), true
	}

	if idx := strings.LastIndexByte(column, '.'); idx >= 0 {
		value, ok := row[column[idx+1:]]
		return plainValue(value), ok
	}

	return nil, false
}

var (
	_ Cursor       = (*KeysetCursor)(nil)
	_ fmt.Stringer = (*KeysetCursor)(nil)
)

// CursorElement is a triple (c, v, o): the column, the boundary value and
// the operator applied to the pair.
type CursorElement struct {
	Column   string
	Value    any
	Operator Operator
}

func (c *CursorElement) toConjunctWithEqualityCondition() tConjunct {
	return tConjunct{
		Column:   c.Column,
		Value:    c.Value,
		Operator: operatorEq,
	}
}
