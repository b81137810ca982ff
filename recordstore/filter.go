package recordstore

import (
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// celEnv declares `row` as a map of header name to cell value.
var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error
)

func filterEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("row", cel.MapType(cel.StringType, cel.StringType)),
		)
	})
	return celEnv, celEnvErr
}

// programCache caches compiled filter programs; the same expressions recur
// across turns since tools build them from a small vocabulary.
var programCache sync.Map // expr string -> cel.Program

func compileExpr(expr string) (cel.Program, error) {
	if p, ok := programCache.Load(expr); ok {
		return p.(cel.Program), nil
	}
	env, err := filterEnv()
	if err != nil {
		return nil, errors.Wrap(err, "create filter env")
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "compile filter %q", expr)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "plan filter %q", expr)
	}
	programCache.Store(expr, prg)
	return prg, nil
}

// Matches reports whether the row satisfies the filter. A nil filter matches
// every row.
func (f *Filter) Matches(row Row) (bool, error) {
	if f == nil {
		return true, nil
	}
	if f.Expr != "" {
		prg, err := compileExpr(f.Expr)
		if err != nil {
			return false, err
		}
		out, _, err := prg.Eval(map[string]any{"row": map[string]string(row)})
		if err != nil {
			return false, errors.Wrapf(err, "eval filter %q", f.Expr)
		}
		matched, ok := out.Value().(bool)
		if !ok {
			return false, errors.Errorf("filter %q is not a boolean expression", f.Expr)
		}
		return matched, nil
	}
	if f.Column == "" {
		return true, nil
	}
	return row.Get(f.Column) == f.Value, nil
}

// ApplyFilter returns the rows matching the filter, preserving order.
func ApplyFilter(rows []Row, filter *Filter) ([]Row, error) {
	if filter == nil {
		return rows, nil
	}
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		ok, err := filter.Matches(row)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}
