// Package beacon is the composition root of a file-backed configuration and
// liveness coordinator.
//
// A shared directory is both transport and source of truth: every config
// document is one JSON or YAML file, and the service registry is a single JSON
// file in the hidden .beacon directory. Cooperating processes pointing at the
// same directory see each other's writes; the last writer wins.
//
// Features:
//
//   - Config documents with stamped metadata, backups on update and delete,
//     merges (override, deep, append), templates, schema checks, history and diffs.
//   - A bounded LRU document cache with an optional prometheus exporter.
//   - Heartbeat-based service registry. Stale records are reaped when a caller
//     asks for fresh data, or on a schedule with WithSweep.
//   - Polling change detection with glob subscriptions and a change log.
//
// Usage:
//
//	sys, err := beacon.New("./configs",
//		beacon.WithLogger(logger),
//		beacon.WithSelfRegistration("10.0.0.2", 8000, nil),
//	)
//	if err != nil {
//		return err
//	}
//	defer sys.Close(ctx)
//
//	_, err = sys.SetServiceConfig(ctx, "users", beacon.Body{"replicas": 3})
package beacon
