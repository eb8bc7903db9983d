// Package process provides generic subprocess lifecycle management.
//
// It is used to supervise the Percy CLI, a long-running helper whose local
// server the test run depends on, and to run its one-shot control commands.
//
// Features:
//   - Start/stop subprocess with graceful shutdown of the whole process group
//   - Exit notification through a Done channel and an OnExit callback
//   - stdout/stderr appended to a log file, or forwarded to the logger
//   - One-shot command execution with exit code reporting (Run)
//
// A process that exits stays exited. Restarting is left to the owner.
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:       "percy",
//	    Binary:     "/usr/local/bin/percy",
//	    Args:       []string{"exec:start"},
//	    Env:        []string{"PERCY_TOKEN=" + token},
//	    OutputFile: "logs/percy.log",
//	})
//
//	if err := mgr.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Stop()
//
//	<-mgr.Done()
package process
