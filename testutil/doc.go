// Package testutil carries the shared helpers for the certflow test
// suites: test-scoped contexts, polling and channel waits, and JSON
// construction. Scripted agent doubles live in testutil/mocks.
package testutil
