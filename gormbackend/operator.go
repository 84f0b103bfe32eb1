package gormbackend

import (
	"fmt"

	"github.com/Alp4ka/deeppager"
)

// Operator is the comparison a keyset continuation applies to a sort column.
type Operator string

func (o Operator) Valid() bool {
	return o == OperatorLT || o == OperatorGT
}

func (o Operator) ForOrdering() deeppager.Direction {
	switch o {
	case OperatorGT:
		return deeppager.DirectionASC
	case OperatorLT:
		return deeppager.DirectionDESC
	default:
		panic(fmt.Errorf("cannot map operator '%s' to ordering", o))
	}
}

// operatorFor returns the operator that moves past a row in the given
// direction.
func operatorFor(direction deeppager.Direction) Operator {
	if direction == deeppager.DirectionDESC {
		return OperatorLT
	}

	return OperatorGT
}

const (
	OperatorGT Operator = ">"
	OperatorLT Operator = "<"

	// operatorEq only appears inside expanded keyset conditions.
	operatorEq Operator = "="
)
