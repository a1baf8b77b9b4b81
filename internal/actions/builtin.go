package actions

// Builtins returns the framework actions.
func Builtins() []Action {
	return []Action{
		newDummy(),
		newSetRuntimeVariable(),
		newSetParameterList(),
		newOutputMessage(),
		newSetIteration(),
		newStartIteration(),
		newIncludeScript(),
		newRoute(),
		newExitScript(),
		newExecuteScript(),
	}
}

// RegisterBuiltins registers all framework actions in the given registry.
func RegisterBuiltins(reg *Registry) error {
	for _, a := range Builtins() {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}
