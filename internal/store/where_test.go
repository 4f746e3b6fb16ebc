package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewWhereBuilder(t *testing.T) {
	wb := newWhereBuilder()

	assert.Equal(t, 1, wb.argIndex)
	assert.Empty(t, wb.conditions)
	assert.Empty(t, wb.args)
}

func TestWhereBuilder_Build_Empty(t *testing.T) {
	whereClause, args := newWhereBuilder().Build()

	assert.Equal(t, "", whereClause)
	assert.Nil(t, args)
}

func TestWhereBuilder_Add_MultipleConditions(t *testing.T) {
	wb := newWhereBuilder()
	wb.Add("status", "pending")
	wb.Add("created_by", "alice")

	whereClause, args := wb.Build()

	assert.Equal(t, " WHERE status = $1 AND created_by = $2", whereClause)
	assert.Equal(t, []any{"pending", "alice"}, args)
}

func TestWhereBuilder_Add_EmptyValue_Skipped(t *testing.T) {
	wb := newWhereBuilder()
	wb.Add("status", "")
	wb.Add("created_by", "alice")

	whereClause, args := wb.Build()

	assert.Equal(t, " WHERE created_by = $1", whereClause)
	assert.Len(t, args, 1)
}

func TestWhereBuilder_AddCond(t *testing.T) {
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	wb := newWhereBuilder()
	wb.AddCond("ready = %s", true)
	wb.AddCond("COALESCE(updated_at, created_at) < %s", cutoff)

	whereClause, args := wb.Build()

	assert.Equal(t, " WHERE ready = $1 AND COALESCE(updated_at, created_at) < $2", whereClause)
	assert.Equal(t, []any{true, cutoff}, args)
}

func TestWhereBuilder_SkippedValuesTakeNoPlaceholder(t *testing.T) {
	wb := newWhereBuilder()
	wb.Add("col1", "val1")
	wb.Add("col2", "")
	wb.AddCond("col3 >= %s", 5)

	whereClause, args := wb.Build()

	assert.Equal(t, " WHERE col1 = $1 AND col3 >= $2", whereClause)
	assert.Equal(t, []any{"val1", 5}, args)
}
