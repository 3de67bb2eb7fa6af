// Package components provides the built-in component set: the entrypoint
// marker plus small data, logging, timing, routing, patching, and
// approval primitives every workflow can rely on.
package components

import (
	"github.com/fmzchao/studio/engine/component"
)

// RegisterBuiltins registers the built-in components on a registry
func RegisterBuiltins(reg *component.Registry) error {
	evaluator := NewEvaluator()

	builtins := []component.Component{
		Entrypoint(),
		Echo(),
		ConsoleLog(),
		Delay(),
		Condition(evaluator),
		Patch(),
		Approval(),
	}
	for _, c := range builtins {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
