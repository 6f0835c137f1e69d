// Package handle exposes managed objects to native code with explicit
// lifetime guarantees.
//
// A Handle is Transient, Persistent or Pinned:
//
//	h, _ := mgr.Wrap(obj, false, false) // valid until the next managed call
//	h, _ = mgr.Wrap(obj, true, false)   // kept alive, may move
//	h, _ = mgr.Wrap(obj, true, true)    // kept alive at a fixed address
//	defer h.Release()
//
// Persistent and pinned handles are safe to hold from several goroutines.
// Concurrent writes to the object's fields are not serialized.
//
// GCHandle is the lighter table-indexed family (weak, strong, pinning).
// Free is idempotent.
package handle
