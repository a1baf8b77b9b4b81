package actions

import (
	"sort"
	"strconv"
	"strings"

	"github.com/BKyryl/iesi/pkg/schema"
)

// meta carries the static part of a framework action.
type meta struct {
	name string
	ActionSchema
}

func (s meta) Name() string         { return s.name }
func (s meta) Schema() ActionSchema { return s.ActionSchema }

// Validate checks that every required parameter is present and not blank.
func (s meta) Validate(params map[string]string) error {
	var missing []string
	for _, name := range s.Required {
		if strings.TrimSpace(params[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: missing required parameter(s) %s",
			s.name, strings.Join(missing, ", ")).
			WithDetails(map[string]any{"missing": missing})
	}
	return nil
}

// numbered collects the parameters prefix1, prefix2, ... keyed by number,
// and returns the numbers in ascending order.
func numbered(params map[string]string, prefix string) (map[int]string, []int) {
	values := make(map[int]string)
	for name, v := range params {
		suffix, ok := strings.CutPrefix(strings.ToLower(name), prefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil || n <= 0 {
			continue
		}
		values[n] = v
	}
	nums := make([]int, 0, len(values))
	for n := range values {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return values, nums
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "y", "yes", "true", "1":
		return true
	}
	return false
}
