// Package assembly keeps the registry of loaded assemblies.
//
// The Registry hands out one Descriptor per runtime image, whether the
// image was loaded through Load, LoadBytes or LoadName, or implicitly by the
// runtime while resolving a reference. After Install the runtime reports
// every finished load to the registry, and a configured Searcher answers
// the runtime's requests for referenced assemblies from zip archives first
// and search roots second.
//
// Entries are sorted by short name so that Find can binary search, then
// disambiguate assemblies sharing a short name by full name.
package assembly
