/*
Package log provides structured logging for Cascade using zerolog.

The root logger is a package variable replaced once by Init; subsystems
derive scoped children from it. The verbosity level lives on the logger
itself rather than in zerolog's global state, so independent engines in
one process (as in tests) can log at different levels. An unknown level
name fails Init instead of being silently coerced.

# Usage

Initializing (once, at process start):

	if err := log.Init(log.Config{Level: "info", JSON: true}); err != nil {
		// bad --log-level flag
	}

Scoped loggers:

	logger := log.Component("engine")
	logger.Info().Str("purpose", "start").Msg("Barrier fired")

	plog := log.Pipeline(rootID, pipelineID)
	plog.Warn().Err(err).Msg("Slot fill failed")

Pipeline attaches the workflow coordinates every handler log line needs;
for root pipelines the redundant root id field is elided.

# Integration Points

This package integrates with:

  - pkg/engine: handler and barrier notification logging
  - pkg/queue: dispatcher delivery and retry logging
  - pkg/api: HTTP request logging
  - cmd/cascade: flag-driven initialization

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
*/
package log
