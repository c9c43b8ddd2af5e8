// Package history keeps a SQLite ledger of deployment runs.
//
// Store implements apporch.Recorder, so an Executor created with
// apporch.WithRecorder(&history.Store{DB: db}) records every run it finishes.
package history
