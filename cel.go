package tabdb

import (
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
)

// celEngine gives the "$cel" expression operator a compiled, cached CEL
// program per expression string, the same caching shape as the rule
// engine's program cache: compile once, Eval many times.
type celEngine struct {
	env      *cel.Env
	prgCache sync.Map
}

func newCELEngine() *celEngine {
	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("resource", decls.NewMapType(decls.String, decls.Dyn)),
			decls.NewVar("vars", decls.NewMapType(decls.String, decls.Dyn)),
		),
	)
	if err != nil {
		// Degrade gracefully: every $cel evaluation becomes a RuntimeError
		// rather than Open failing outright over an environment that
		// should never fail to construct with a fixed declaration set.
		return &celEngine{}
	}
	return &celEngine{env: env}
}

func (e *celEngine) eval(expr string, resource, vars map[string]any) (Data, error) {
	if e.env == nil {
		return nil, newErr(RuntimeError, "cel engine unavailable")
	}
	var prg cel.Program
	if v, ok := e.prgCache.Load(expr); ok {
		prg = v.(cel.Program)
	} else {
		ast, iss := e.env.Compile(expr)
		if iss != nil && iss.Err() != nil {
			return nil, newErr(RuntimeError, "cel compile %q: %v", expr, iss.Err())
		}
		p, err := e.env.Program(ast)
		if err != nil {
			return nil, newErr(RuntimeError, "cel program %q: %v", expr, err)
		}
		prg = p
		e.prgCache.Store(expr, prg)
	}
	out, _, err := prg.Eval(map[string]any{"resource": resource, "vars": vars})
	if err != nil {
		return nil, newErr(RuntimeError, "cel eval %q: %v", expr, err)
	}
	return out.Value(), nil
}

func (qc *QueryContext) evalCEL(operand Data) Data {
	expr, ok := operand.(string)
	if !ok {
		qc.errs.Add(newErr(RuntimeError, "$cel operand must be a string expression"))
		return nil
	}
	resource := map[string]any{}
	if cur, ok := qc.current(); ok {
		if t, ok := cur.(Table); ok {
			resource = map[string]any(t)
		}
	}
	vars := make(map[string]any, len(qc.stack))
	for _, b := range qc.stack {
		if b.alias != "" {
			vars[b.alias] = b.value
		}
	}
	v, err := qc.db.celEngine.eval(expr, resource, vars)
	if err != nil {
		qc.errs.Add(err.(*Error))
		return nil
	}
	return v
}
