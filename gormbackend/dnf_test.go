package gormbackend

import (
	"database/sql/driver"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/clause"
)

func Test_tConjunct_toGORMExpression(t *testing.T) {
	timeNow := time.Now().UTC()
	timeNowStr, _ := timeNow.MarshalText()

	tests := []struct {
		name     string
		conjunct tConjunct
		wantSQL  string
		wantVar  any
	}{
		{"string less than", tConjunct{Column: "name", Operator: OperatorLT, Value: "abc"}, "name < ?", "abc"},
		{"timestamp greater than", tConjunct{Column: "created_at", Operator: OperatorGT, Value: timeNow}, "created_at > ?", timeNow},
		{"timestamp text becomes timestamp", tConjunct{Column: "created_at", Operator: OperatorGT, Value: timeNowStr}, "created_at > ?", timeNow},
		{"timestamp string becomes timestamp", tConjunct{Column: "created_at", Operator: OperatorGT, Value: string(timeNowStr)}, "created_at > ?", timeNow},
		{"integer less than", tConjunct{Column: "id", Operator: OperatorLT, Value: 10}, "id < ?", 10},
		{"float greater than", tConjunct{Column: "price", Operator: OperatorGT, Value: 99.99}, "price > ?", 99.99},
		{"equality", tConjunct{Column: "id", Operator: operatorEq, Value: int64(7)}, "id = ?", int64(7)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, ok := tt.conjunct.toGORMExpression().(clause.Expr)
			require.True(t, ok)
			assert.Equal(t, tt.wantSQL, expr.SQL)
			require.Len(t, expr.Vars, 1)
			assert.Equal(t, tt.wantVar, expr.Vars[0])
		})
	}
}

func Test_tDisjunct_toGORMExpression(t *testing.T) {
	single := tDisjunct{{Column: "id", Operator: OperatorGT, Value: 5}}
	_, ok := single.toGORMExpression().(clause.Expr)
	assert.True(t, ok, "single conjunct is not wrapped")

	multi := tDisjunct{
		{Column: "id", Operator: operatorEq, Value: 5},
		{Column: "created_at", Operator: OperatorGT, Value: "2024-01-02T03:04:05Z"},
	}
	and, ok := multi.toGORMExpression().(clause.AndConditions)
	require.True(t, ok)
	assert.Len(t, and.Exprs, 2)

	assert.Nil(t, tDisjunct{}.toGORMExpression())
}

func Test_tDNF_toGORMExpression(t *testing.T) {
	dnf := tDNF{
		{{Column: "id", Operator: OperatorGT, Value: 5}},
		{},
		{{Column: "id", Operator: operatorEq, Value: 5}, {Column: "name", Operator: OperatorLT, Value: "b"}},
	}
	or, ok := dnf.toGORMExpression().(clause.OrConditions)
	require.True(t, ok)
	assert.Len(t, or.Exprs, 2)

	assert.Nil(t, tDNF{}.toGORMExpression())
	assert.Nil(t, tDNF{{}, {}}.toGORMExpression())
}

func Test_tDisjunct_toSQLClause(t *testing.T) {
	timeNow := time.Now().UTC()
	timeNowStr, _ := timeNow.MarshalText()

	tests := []struct {
		name     string
		disjunct tDisjunct
		wantSQL  string
		wantVals []driver.Value
	}{
		{
			name:     "single conjunct",
			disjunct: tDisjunct{{Column: "id", Operator: OperatorGT, Value: 5}},
			wantSQL:  "(id > ?)",
			wantVals: []driver.Value{5},
		},
		{
			name: "multiple conjuncts",
			disjunct: tDisjunct{
				{Column: "id", Operator: OperatorGT, Value: 5},
				{Column: "name", Operator: OperatorLT, Value: "abc"},
				{Column: "active", Operator: OperatorGT, Value: true},
			},
			wantSQL:  "(id > ? AND name < ? AND active > ?)",
			wantVals: []driver.Value{5, "abc", true},
		},
		{
			name: "timestamp conversion",
			disjunct: tDisjunct{
				{Column: "created_at", Operator: OperatorGT, Value: timeNowStr},
				{Column: "updated_at", Operator: OperatorLT, Value: timeNow},
			},
			wantSQL:  "(created_at > ? AND updated_at < ?)",
			wantVals: []driver.Value{timeNow, timeNow},
		},
		{
			name:     "empty disjunct",
			disjunct: tDisjunct{},
			wantSQL:  "",
			wantVals: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSQL, gotVals := tt.disjunct.toSQLClause()
			assert.Equal(t, tt.wantSQL, gotSQL)
			assert.Equal(t, tt.wantVals, gotVals)
		})
	}
}

func Test_tDNF_toSQLClause(t *testing.T) {
	tests := []struct {
		name     string
		dnf      tDNF
		wantSQL  string
		wantVals []driver.Value
	}{
		{
			name:     "single disjunct with single conjunct",
			dnf:      tDNF{{{Column: "id", Operator: OperatorGT, Value: 5}}},
			wantSQL:  "((id > ?))",
			wantVals: []driver.Value{5},
		},
		{
			name: "multiple disjuncts",
			dnf: tDNF{
				{{Column: "id", Operator: OperatorGT, Value: 5}, {Column: "name", Operator: OperatorLT, Value: "abc"}},
				{{Column: "id", Operator: OperatorGT, Value: 10}},
			},
			wantSQL:  "((id > ? AND name < ?) OR (id > ?))",
			wantVals: []driver.Value{5, "abc", 10},
		},
		{
			name:     "empty DNF",
			dnf:      tDNF{},
			wantSQL:  "TRUE",
			wantVals: nil,
		},
		{
			name:     "empty disjuncts are skipped",
			dnf:      tDNF{{}, {{Column: "id", Operator: OperatorGT, Value: 5}}, {}},
			wantSQL:  "((id > ?))",
			wantVals: []driver.Value{5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSQL, gotVals := tt.dnf.toSQLClause()
			assert.Equal(t, tt.wantSQL, gotSQL)
			assert.Equal(t, tt.wantVals, gotVals)
		})
	}
}
