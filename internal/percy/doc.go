// Package percy supervises the Percy visual-testing CLI for a test run.
//
// A Percy value ties together the steps needed to bring the CLI's local
// server up and take it down again:
//
//   - resolving the CLI binary through a BinaryProvider (cached)
//   - fetching a short-lived project token from the BrowserStack API
//   - writing the user's Percy options to <tmp>/percy.json
//   - spawning "percy [app:]exec:start [-c percy.json]" with PERCY_TOKEN set,
//     stdout and stderr appended to logs/percy.log
//   - polling GET /percy/healthcheck until it answers or the CLI exits
//   - running "percy exec:stop" on shutdown
//
// The facade reports outcomes as booleans. Token, config, spawn and health
// failures are logged and never returned as errors from Start; only Stop
// returns an error, and only when the stop command itself could not run.
//
// Example:
//
//	p, err := percy.New(percy.Config{
//	    Username:  user,
//	    AccessKey: key,
//	    Options:   map[string]any{"snapshot": map[string]any{"widths": []int{375, 1280}}},
//	})
//	if err != nil {
//	    return err
//	}
//	p.SetLogger(log)
//
//	if !p.Start(ctx) {
//	    return errors.New("percy failed to start")
//	}
//	defer p.Stop(context.Background())
package percy
