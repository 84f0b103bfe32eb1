package gormbackend

import (
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"github.com/Alp4ka/deeppager"
)

// OffsetCursor continues a scroll with LIMIT/OFFSET. It serves tables whose
// orderings have no unique column to key on; rows inserted or removed while
// scrolling shift later batches.
type OffsetCursor struct {
	offset int
}

func NewOffsetCursor(offset int) *OffsetCursor {
	return &OffsetCursor{
		offset: offset,
	}
}

// String - implements fmt.Stringer.
func (p *OffsetCursor) String() string {
	return "OFFSET " + strconv.Itoa(p.GetOffset())
}

// IsEmpty - implements Cursor.
func (p *OffsetCursor) IsEmpty() bool {
	return p == nil || p.offset == 0
}

// Apply - implements Cursor. Applies the offset to a gorm query.
func (p *OffsetCursor) Apply(db *gorm.DB) *gorm.DB {
	return db.Offset(p.GetOffset())
}

// GetOffset returns the numeric offset value.
func (p *OffsetCursor) GetOffset() int {
	if p != nil {
		return p.offset
	}

	return 0
}

// validate - implements Cursor.
func (p *OffsetCursor) validate(_ deeppager.Orderings) error {
	if p.GetOffset() < 0 {
		return fmt.Errorf("negative cursor offset %d", p.offset)
	}

	return nil
}

// advance - implements Cursor.
func (p *OffsetCursor) advance(_ deeppager.Orderings, rows []map[string]any) (Cursor, error) {
	return &OffsetCursor{offset: p.GetOffset() + len(rows)}, nil
}

var (
	_ Cursor       = (*OffsetCursor)(nil)
	_ fmt.Stringer = (*OffsetCursor)(nil)
)
