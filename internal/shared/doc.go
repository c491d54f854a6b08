// Package shared holds code used across the wrdspanel packages that does
// not belong to any one pipeline stage.
//
// The testutil subpackage captures slog output so tests can assert on
// what a component logged:
//
//	logger, logs := testutil.NewTestLogger(t)
//	svc := NewThing(logger)
//	...
//	testutil.AssertLogged(t, logs, slog.LevelWarn, "cache miss")
//
// Nothing here may import a pipeline package.
package shared
