package generation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/BKyryl/iesi/internal/expressions"
	"github.com/BKyryl/iesi/pkg/schema"
)

// Built-in generator names.
const (
	NameUUID   = "uuid"
	NameExpr   = "expr"
	NameJQ     = "jq"
	NameCEL    = "cel"
	NameTime   = "time"
	NameCron   = "cron"
	NameLua    = "lua"
	NameNumber = "number"
)

// Options configure the built-in generators. Nil engines are created.
type Options struct {
	CEL  *expressions.CELEngine
	Expr *expressions.ExprEngine
	JQ   *expressions.GoJQEngine
	Now  func() time.Time
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// RegisterBuiltins registers uuid, expr, jq, cel, time, cron, lua and number.
func RegisterBuiltins(r *Registry, opts Options) error {
	if opts.CEL == nil {
		celEngine, err := expressions.NewCELEngine()
		if err != nil {
			return err
		}
		opts.CEL = celEngine
	}
	if opts.Expr == nil {
		opts.Expr = expressions.NewExprEngine()
	}
	if opts.JQ == nil {
		opts.JQ = expressions.NewGoJQEngine()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	builtins := map[string]Generator{
		NameUUID:   Func(generateUUID),
		NameExpr:   evalGenerator(opts.Expr),
		NameCEL:    evalGenerator(opts.CEL),
		NameJQ:     jqGenerator(opts.JQ),
		NameTime:   timeGenerator(opts.Now),
		NameCron:   cronGenerator(opts.Now),
		NameLua:    NewLua(),
		NameNumber: Func(generateNumber),
	}
	for name, g := range builtins {
		if err := r.Register(name, g); err != nil {
			return err
		}
	}
	return nil
}

func generateUUID(context.Context, string) (string, error) {
	return uuid.New().String(), nil
}

func evalGenerator(e expressions.Engine) Generator {
	return Func(func(ctx context.Context, args string) (string, error) {
		out, err := e.Evaluate(ctx, strings.TrimSpace(args), nil)
		if err != nil {
			return "", err
		}
		return expressions.Stringify(out), nil
	})
}

// jqGenerator expects "query, document". A query holding a top-level comma
// must be quoted or parenthesized.
func jqGenerator(e *expressions.GoJQEngine) Generator {
	return Func(func(ctx context.Context, args string) (string, error) {
		query, doc, _ := splitFirst(args)
		out, err := e.QueryJSON(ctx, unquote(query), doc)
		if err != nil {
			return "", err
		}
		return expressions.Stringify(out), nil
	})
}

// timeGenerator formats the current time with a Go layout, optionally
// shifted by a trailing duration argument: *time(2006-01-02, -24h).
func timeGenerator(now func() time.Time) Generator {
	return Func(func(_ context.Context, args string) (string, error) {
		layout := strings.TrimSpace(args)
		t := now()
		if head, tail, ok := splitFirst(args); ok {
			if d, err := time.ParseDuration(tail); err == nil {
				layout = head
				t = t.Add(d)
			}
		}
		layout = unquote(layout)
		if layout == "" {
			layout = time.RFC3339
		}
		return t.Format(layout), nil
	})
}

// cronGenerator returns the next activation of a cron expression, RFC3339.
func cronGenerator(now func() time.Time) Generator {
	return Func(func(_ context.Context, args string) (string, error) {
		spec := unquote(strings.TrimSpace(args))
		sched, err := cronParser.Parse(spec)
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid cron expression %q: %s", spec, err.Error()).
				WithCause(err)
		}
		return sched.Next(now()).Format(time.RFC3339), nil
	})
}

// generateNumber returns a random integer in [min, max].
func generateNumber(_ context.Context, args string) (string, error) {
	lo, hi, ok := splitFirst(args)
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "number expects min,max, got %q", args)
	}
	minV, err := strconv.ParseInt(lo, 10, 64)
	if err != nil {
		return "", fmt.Errorf("number min: %w", err)
	}
	maxV, err := strconv.ParseInt(hi, 10, 64)
	if err != nil {
		return "", fmt.Errorf("number max: %w", err)
	}
	if maxV < minV {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "number range [%d,%d] is empty", minV, maxV)
	}
	return strconv.FormatInt(minV+rand.Int64N(maxV-minV+1), 10), nil
}
