// Package store holds conversation state in a bounded, expiring in-memory
// map and enforces admission control on its growth.
//
// Invariants:
// - The total session count never exceeds the configured global capacity.
// - No identity owns more sessions than its quota.
// - No session holds more messages than the per-session cap.
// - A record older than its TTL is never returned by a read, even before
//   the reclaimer has swept it.
//
// Usage:
//
//	st, _ := store.New(store.Config{
//		MaxSessionsTotal:       500,
//		MaxSessionsPerIdentity: 5,
//		MaxMessagesPerSession:  100,
//		TTL:                    24 * time.Hour,
//	}, nil)
//	rec, _ := st.GetOrCreate("session-1", "203.0.113.7")
//	_ = st.Append(rec.ID, store.Message{Role: "user", Content: "hello"})
package store
