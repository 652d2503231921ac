package agentcore

// registerBuiltinCommands installs the runtime's built-in internal commands
// (apply_patch, run_research) onto executor. newSubRuntime lets
// run_research spin up a nested Runtime without this file importing the
// orchestrator's own constructor signature directly, avoiding an import
// cycle between command registration and orchestrator construction.
func registerBuiltinCommands(executor *CommandExecutor, newSubRuntime func(RuntimeOptions) (*Runtime, error), base RuntimeOptions) error {
	if err := executor.RegisterInternalCommand(applyPatchCommandName, newApplyPatchCommand()); err != nil {
		return err
	}
	if err := executor.RegisterInternalCommand(runResearchCommandName, newRunResearchCommand(newSubRuntime, base)); err != nil {
		return err
	}
	return nil
}
