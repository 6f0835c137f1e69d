// Package metadata caches managed type metadata in flyweight descriptors.
//
// A Cache hands out exactly one ClassDescriptor per native class identity:
//
//	cache := metadata.NewCache(rt)
//	player := cache.Lookup(img, "Game", "Player")
//	score := player.Method("Score", 2)           // by name and arity
//	score = player.MethodByTypes("Score", "System.Int64", "System.Int64")
//
// Unresolved lookups return nil rather than an error. Descriptors resolve
// related types (base, interfaces, parameter types) through the cache, so
// they compare by pointer as long as the cache is not cleared.
package metadata
