package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BKyryl/iesi/pkg/schema"
)

func TestReport_WarningsPass(t *testing.T) {
	r := &Report{Script: "load"}
	assert.NoError(t, r.Err())

	r.warn("actions[0].iteration", "iteration %q is not defined earlier in this script", "rows")
	assert.NoError(t, r.Err())
	require.Len(t, r.Warnings(), 1)
	assert.Empty(t, r.Errors())
}

func TestReport_Err(t *testing.T) {
	r := &Report{Script: "load"}
	r.fail("actions[0].type", schema.ErrCodeNotFound, "action type %q not registered", "sql.query")

	err := r.Err()
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound), "first error code is kept")
	assert.Equal(t, `[NOT_FOUND] script load: actions[0].type: action type "sql.query" not registered`, err.Error())

	r.warn("actions[1].error_stop", "route ends the script")
	r.fail("actions[2].number", schema.ErrCodeValidation, "duplicate action number %d", 2)

	var ie *schema.IesiError
	require.ErrorAs(t, r.Err(), &ie)
	assert.Contains(t, ie.Message, "2 problems, first at actions[0].type")
	assert.Equal(t, "load", ie.Details["script"])
	assert.Len(t, ie.Details["issues"], 3)
	assert.Equal(t, []string{"actions[0].type", "actions[2].number"}, paths(r.Errors()))
}
