package gormbackend

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Alp4ka/deeppager"
)

// Where is a raw SQL condition with "?" placeholders, usable as
// deeppager.Query.Filter.
//
//	deeppager.Query{Filter: gormbackend.Where{SQL: "age > ?", Args: []any{18}}}
type Where struct {
	SQL  string
	Args []any
}

// applyFilter narrows db by a query filter. Accepted filters are nil,
// Where, a raw SQL string and any clause.Expression.
func applyFilter(db *gorm.DB, filter any) (*gorm.DB, error) {
	switch f := filter.(type) {
	case nil:
		return db, nil
	case Where:
		if strings.TrimSpace(f.SQL) == "" {
			return db, nil
		}
		return db.Where(f.SQL, f.Args...), nil
	case *Where:
		if f == nil {
			return db, nil
		}
		return applyFilter(db, *f)
	case string:
		return applyFilter(db, Where{SQL: f})
	case clause.Expression:
		return db.Clauses(f), nil
	default:
		return nil, fmt.Errorf("%w: unsupported filter type %T", deeppager.ErrInvalidArgument, filter)
	}
}
