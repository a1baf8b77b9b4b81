package expressions

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/BKyryl/iesi/pkg/schema"
)

var _ Engine = (*ExprEngine)(nil)

// ExprEngine backs the *expr generator. Programs compile once per expression
// text and unknown identifiers read as nil, so `missing ?? "x"` yields "x".
type ExprEngine struct {
	programs sync.Map // expression text -> *vm.Program
}

func NewExprEngine() *ExprEngine { return &ExprEngine{} }

func (e *ExprEngine) Name() string { return "expr" }

func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}
	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	out, err := vm.Run(prg, data)
	if err != nil {
		return nil, exprError(schema.ErrCodeExecution, "run", expression, err)
	}
	return out, nil
}

// program returns the compiled form of expression. Two callers racing on a
// new expression may both compile it; the first stored program wins.
func (e *ExprEngine) program(expression string) (*vm.Program, error) {
	if p, ok := e.programs.Load(expression); ok {
		return p.(*vm.Program), nil
	}
	prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, exprError(schema.ErrCodeValidation, "compile", expression, err)
	}
	p, _ := e.programs.LoadOrStore(expression, prg)
	return p.(*vm.Program), nil
}

func exprError(code, stage, expression string, err error) error {
	return schema.NewErrorf(code, "expr %s %q: %v", stage, expression, err).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}
