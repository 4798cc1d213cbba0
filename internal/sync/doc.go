// Package sync reconciles issues fetched from remote trackers into the local
// task store.
//
// Overview
//
// One run consumes the flattened issue stream of every target in a flavor
// exactly once. Each issue is fingerprinted from the identity fields its
// service declares and matched against the managed tasks loaded from the
// store:
//
//	service.Aggregate (one goroutine per target)
//	     ↓
//	<-chan service.Record
//	     ↓
//	Engine.Synchronize
//	     ├── matcher     fingerprint → NEW | active | REOPEN | duplicate | ambiguous
//	     ├── policies    merge | keep | static | overwrite per field
//	     └── store.Save  one call per task mutation
//	     ↓
//	MISSING tasks completed once the stream ends
//
// Usage
//
//	targets, err := builtin.Registry().Build(cfg.FlavorTargets(flavor), logger)
//	if err != nil {
//	    return err
//	}
//
//	engine := sync.New(st, sync.Options{
//	    Targets:  targets,
//	    Policies: sync.PoliciesFromFlavor(flavor),
//	    LockPath: flavor.LockPath(),
//	}, nil)
//
//	result, err := engine.Synchronize(ctx, service.Aggregate(ctx, targets, logger))
//
// Error Handling
//
// The engine is resilient to individual failures:
//
//   - Issues without identity fields are logged and skipped
//   - Ambiguous matches are logged and skipped
//   - A failed target leaves its tasks untouched unless CloseOnFetchError is set
//   - Rejected writes are collected and returned as ErrWriteFailures at the end
//
// Lock contention, conflicting UDA declarations and cancellation abort the
// run before any task is completed; IsFatal distinguishes them.
//
// Concurrency
//
// Synchronize is single-threaded. The sync lock excludes other runs against
// the same store for the whole duration of the call, including dry runs.
package sync
