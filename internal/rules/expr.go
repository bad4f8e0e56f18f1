package rules

import (
	"fmt"
	"regexp"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// plainPathPattern matches a dotted/bracketed projection path containing
// no expr-lang operators: identifier segments joined by "." with
// optional "[n]"/"[]"/"[*]" index/fan-out markers (SPEC_FULL.md §4.5.1's
// fast path). Anything else — comparisons, boolean/arithmetic operators,
// ternaries, function calls — falls back to expr-lang/expr. Grounded on
// bittoy-rule's ExprAssignNode/ExprFilterNode, which compile their
// configured script once at Init and evaluate it per message via vm.Run
// against the message's data as the expression environment.
var plainPathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*|\[[0-9]+\]|\[\*\]|\[\])*$`)

// isExprPath reports whether path should be evaluated via expr-lang/expr
// rather than the plain-path fast path. An empty path (resolving to the
// data itself) and a plain dotted/bracketed path take the fast path;
// anything containing an operator is detected automatically and routed
// to expr.
func isExprPath(path string) bool {
	if path == "" {
		return false
	}
	return !plainPathPattern.MatchString(path)
}

// compileExpr compiles path as an expr-lang program once, when NewEngine
// compiles the rules, so that repeated evaluation per write never
// re-parses the script.
func compileExpr(path string) (*vm.Program, error) {
	program, err := expr.Compile(path, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("rules: compile expr %q: %w", path, err)
	}
	return program, nil
}

// runExpr evaluates a compiled expr program against payload, with the
// current fan-out element (if any) exposed as "elem".
func runExpr(program *vm.Program, payload map[string]any, elem any) (any, error) {
	env := map[string]any{
		"payload": payload,
		"elem":    elem,
	}
	return expr.Run(program, env)
}
