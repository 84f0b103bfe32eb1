package gormbackend

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/Alp4ka/deeppager"
)

// Cursor is the continuation a scroll keeps between batches.
type Cursor interface {
	fmt.Stringer
	IsEmpty() bool
	Apply(*gorm.DB) *gorm.DB
	validate(orderings deeppager.Orderings) error
	// advance returns the continuation that follows rows, the batch the
	// cursor has just produced.
	advance(orderings deeppager.Orderings, rows []map[string]any) (Cursor, error)
}
