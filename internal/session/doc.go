// Package session pairs managed child processes with their output
// pipelines and bounded histories, addressed by short typeable ids.
//
// The Registry owns the id space and the session map. Sessions are
// registered only after their child started, removed on explicit
// terminate or by the periodic expiry sweep, and every mutation of the
// map goes through the registry's single mutex. Each Session wires its
// Process Controller into an Output Buffer whose flushed chunk batches
// land in the session's output history and on the event bus.
//
// Features:
//   - Collision-proof 6-char session ids (re-rolled against live and
//     reserved keys under one lock)
//   - Atomic create: the session is visible only once its child runs
//   - Bounded command and output histories (drop-oldest)
//   - Idempotent terminate (second call reports false)
//   - Periodic sweep reclaiming idle and dead sessions
//   - Per-workdir overrides for timeout and flush cadence
//
// Example Usage:
//
//	reg, err := session.NewRegistry(cfg, bus, nil, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	reg.Start()
//	defer reg.Close()
//
//	s, err := reg.Create("/workspace/project")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	reg.SendCommand(s.ID, "explain this repo")
package session
