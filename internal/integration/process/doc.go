// Package process runs resolved tasks as child processes.
//
// A Runner takes the SpawnInTerminal payload produced by task resolution
// and starts it through the configured shell. It enforces the rules the
// payload carries:
//
//   - A task that does not allow concurrent runs cannot be spawned while an
//     earlier run with the same TaskID is still going (ErrAlreadyRunning).
//   - Runs of a task share one terminal slot, keyed by TaskID, unless the
//     task asks for a new terminal or the slot is busy.
//   - The reveal strategy is reported to listeners when the run starts, or
//     when it exits non-zero for RevealOnFailure.
//
// The environment of a run is the process environment, overlaid by the
// runner's configured env, overlaid by the task env.
//
// # Supervisor
//
// Every run is a Process owned by a Supervisor. Processes are started in
// their own process group so signals reach the shell and its children:
//
//	runner := process.NewRunner(process.DefaultConfig())
//	defer runner.Shutdown(5 * time.Second)
//
//	exec, err := runner.Spawn(ctx, *resolved.Resolved)
//	if err != nil {
//	    return err
//	}
//	<-exec.Done()
//	fmt.Println(exec.ExitCode())
//
// # Policy
//
// A Policy refuses spawns whose command is blocked, matches a blocked
// pattern, is too long, or runs outside the workspace.
package process
