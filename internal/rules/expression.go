package rules

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"exoweb/internal/model"
	"exoweb/internal/pathtokens"
)

// ExpressionOptions configures Expression. The expression sees the target
// property and every BasedOn path under its dotted name, plus id.
type ExpressionOptions struct {
	Options
	Expression string
	BasedOn    []string
}

// CompileExpression compiles a boolean condition expression.
func CompileExpression(expression string) (*vm.Program, error) {
	prog, err := expr.Compile(expression, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	return prog, nil
}

// Expression flags the property while the expression evaluates to true.
func Expression(opts ExpressionOptions) (*ConditionRule, error) {
	prog, err := CompileExpression(opts.Expression)
	if err != nil {
		return nil, fmt.Errorf("expression rule on %s: %w", opts.Property, err)
	}
	r, err := newConditionRule(opts.Options, "Expression", func(string) string {
		return "Expression rule violated"
	})
	if err != nil {
		return nil, err
	}

	paths, err := pathtokens.NormalizePaths(opts.BasedOn)
	if err != nil {
		return nil, fmt.Errorf("expression rule on %s: %w", opts.Property, err)
	}
	inputs := []model.PropertyPath{r.Property}
	var extra []model.Input
	m := opts.Root.Model()
	for _, path := range paths {
		pp, err := m.Property(path, opts.Root)
		if err != nil {
			return nil, fmt.Errorf("expression rule on %s: based on %q: %w", opts.Property, path, err)
		}
		inputs = append(inputs, pp)
		extra = append(extra, &model.RuleInput{Property: pp, Init: true, Change: true})
	}

	r.check = func(e *model.Entity) (bool, error) {
		result, err := expr.Run(prog, model.ExpressionEnv(e, inputs))
		if err != nil {
			return false, fmt.Errorf("rule evaluation error: %w", err)
		}
		violated, _ := result.(bool)
		return !violated, nil
	}
	if err := r.register(extra...); err != nil {
		return nil, err
	}
	return r, nil
}
