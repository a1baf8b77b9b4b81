package generation

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BKyryl/iesi/pkg/schema"
)

var fixedNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, Options{Now: func() time.Time { return fixedNow }}))
	return r
}

func TestRegistry_Builtins(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, []string{"cel", "cron", "expr", "jq", "lua", "number", "time", "uuid"}, r.Names())
}

func TestRegistry_RegisterErrors(t *testing.T) {
	r := newTestRegistry(t)

	err := r.Register("UUID", Func(generateUUID))
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict), "names are case-insensitive")

	err = r.Register(" ", Func(generateUUID))
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestRegistry_UnknownGenerator(t *testing.T) {
	_, err := newTestRegistry(t).Generate(context.Background(), "faker", "")
	assert.True(t, schema.HasCode(err, schema.ErrCodeConfiguration))
}

func TestGenerators(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name, gen, args, want string
	}{
		{"expr", "expr", `"a" + "b"`, "ab"},
		{"expr arithmetic", "expr", "1 + 2", "3"},
		{"cel", "CEL", "2 * 21", "42"},
		{"jq", "jq", `.a, {"a": {"b": 1}}`, `{"b":1}`},
		{"jq quoted query with comma", "jq", `".a, .b", {"a":1,"b":2}`, "[1,2]"},
		{"time layout", "time", "2006-01-02", "2024-03-15"},
		{"time shifted", "time", "2006-01-02, -24h", "2024-03-14"},
		{"time layout with comma", "time", "Jan 2, 2006", "Mar 15, 2024"},
		{"time default", "time", "", "2024-03-15T10:30:00Z"},
		{"cron", "cron", "0 12 * * *", "2024-03-15T12:00:00Z"},
		{"cron descriptor", "cron", "@daily", "2024-03-16T00:00:00Z"},
		{"lua expression", "lua", `"run-" .. (40 + 2)`, "run-42"},
		{"lua chunk", "lua", "local s = 0 for i = 1, 3 do s = s + i end return s", "6"},
		{"lua boolean", "lua", "1 < 2", "true"},
		{"lua string lib", "lua", `string.upper("x")`, "X"},
		{"number fixed", "number", "5,5", "5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Generate(context.Background(), tt.gen, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerators_Errors(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	for _, tc := range []struct{ gen, args string }{
		{"lua", `os.exit(1)`},
		{"lua", `io.open("x")`},
		{"lua", "return {}"},
		{"lua", "this is not lua"},
		{"cron", "not a cron"},
		{"number", "9,1"},
		{"number", "1"},
		{"jq", ". , not json"},
	} {
		_, err := r.Generate(ctx, tc.gen, tc.args)
		assert.Error(t, err, "%s(%s)", tc.gen, tc.args)
	}
}

func TestUUIDAndNumber(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	id, err := r.Generate(ctx, "uuid", "")
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)

	for i := 0; i < 50; i++ {
		v, err := r.Generate(ctx, "number", "1, 3")
		require.NoError(t, err)
		n, err := strconv.Atoi(v)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1)
		assert.LessOrEqual(t, n, 3)
	}
}

func TestSplitFirst(t *testing.T) {
	head, tail, ok := splitFirst(`"a,b", [1,2]`)
	assert.True(t, ok)
	assert.Equal(t, `"a,b"`, head)
	assert.Equal(t, `[1,2]`, tail)

	head, _, ok = splitFirst("single")
	assert.False(t, ok)
	assert.Equal(t, "single", head)
}
