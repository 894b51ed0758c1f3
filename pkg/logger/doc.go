// Package logger provides the structured logging interface used across imgrelay.
//
// It wraps zerolog with a small interface so components can take a Logger
// dependency and tests can swap in NewTestLogger or NewNopLogger.
//
// Basic Usage:
//
//	err := logger.Initialize(&cfg.Logging)
//
//	logger.Info("server starting")
//	logger.WithField("url", target).Info("fetching image")
//
//	log := logger.GetLogger().WithField("component", "archive")
//	log.InfoWithFields("archive built", map[string]interface{}{
//	    "items":    12,
//	    "failures": 1,
//	})
//
// Output goes to stderr through a console writer, or as raw JSON when
// logging.format is "json". When logging.file is set, records are also
// appended to that file.
package logger
