package gormbackend

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm/clause"
)

type (
	// tConjunct is a single comparison "Column Operator Value".
	tConjunct struct {
		Column   string
		Value    any
		Operator Operator
	}

	// tDisjunct is a list of conjuncts joined by AND.
	tDisjunct []tConjunct

	// tDNF is a disjunctive normal form: disjuncts joined by OR.
	//
	//	DNF = (A11 AND A12) OR (A21 AND A22 AND A23) ...
	//
	// A keyset position over sort columns (C1..Cn) expands into
	//
	//	(C1 O1 V1) OR (C1 = V1 AND C2 O2 V2) OR ... OR (C1 = V1 ... AND Cn On Vn)
	tDNF []tDisjunct
)

// toGORMExpression renders the conjunct as "Column Operator ?".
func (c tConjunct) toGORMExpression() clause.Expression {
	sqlClause, arg := c.toSQLClause()

	return clause.Expr{
		SQL:  sqlClause,
		Vars: []any{arg},
	}
}

func (c tConjunct) toSQLClause() (string, driver.Value) {
	return fmt.Sprintf("%s %s ?", c.Column, c.Operator), parseAnyValue(c.Value)
}

// parseAnyValue turns timestamps that arrive as text back into time.Time so
// drivers compare them as timestamps. Other values pass through.
func parseAnyValue(v any) any {
	parse := func(raw []byte) any {
		var ts time.Time
		if err := ts.UnmarshalText(raw); err == nil {
			return ts
		}

		return v
	}

	switch vt := v.(type) {
	case string:
		return parse([]byte(vt))
	case []byte:
		return parse(vt)
	default:
		return v
	}
}

// toGORMExpression joins the conjuncts with AND. Empty disjuncts render nil.
func (d tDisjunct) toGORMExpression() clause.Expression {
	exprs := lo.Map(d, func(c tConjunct, _ int) clause.Expression { return c.toGORMExpression() })

	switch len(exprs) {
	case 0:
		return nil
	case 1:
		return exprs[0]
	default:
		return clause.And(exprs...)
	}
}

// toSQLClause renders "(K1 AND K2 ...)" with its placeholder values.
func (d tDisjunct) toSQLClause() (string, []driver.Value) {
	if len(d) == 0 {
		return "", nil
	}

	clauses := make([]string, 0, len(d))
	values := make([]driver.Value, 0, len(d))
	for _, conjunct := range d {
		sqlClause, value := conjunct.toSQLClause()
		clauses = append(clauses, sqlClause)
		values = append(values, value)
	}

	return fmt.Sprintf("(%s)", strings.Join(clauses, " AND ")), values
}

// toGORMExpression joins the disjuncts with OR.
func (d tDNF) toGORMExpression() clause.Expression {
	exprs := lo.FilterMap(d, func(disjunct tDisjunct, _ int) (clause.Expression, bool) {
		expr := disjunct.toGORMExpression()
		return expr, expr != nil
	})

	switch len(exprs) {
	case 0:
		return nil
	case 1:
		return exprs[0]
	default:
		return clause.Or(exprs...)
	}
}

// toSQLClause renders the whole form as plain SQL, mainly for logs. An
// empty form is "TRUE".
//
//	{{id < 10}, {id = 10, name < "abc"}} -> ("((id < ?) OR (id = ? AND name < ?))", [10, 10, "abc"])
func (d tDNF) toSQLClause() (string, []driver.Value) {
	clauses := make([]string, 0, len(d))
	values := make([]driver.Value, 0, len(d))

	for _, disjunct := range d {
		sqlClause, disjunctValues := disjunct.toSQLClause()
		if sqlClause == "" {
			continue
		}

		clauses = append(clauses, sqlClause)
		values = append(values, disjunctValues...)
	}

	if len(clauses) == 0 {
		return "TRUE", nil
	}

	return fmt.Sprintf("(%s)", strings.Join(clauses, " OR ")), values
}
