// Package blobcache implements a temporary file cache: callers upload a byte
// blob with a time-to-live and get back an opaque id, then retrieve, inspect,
// or delete it until expiry, after which background reapers reclaim the
// space automatically.
//
// # Key Components
//
//   - Engine: orchestrates admission, streaming upload, deduplication, and
//     the two-phase object+metadata commit
//   - ObjectBackend: byte-level persistence (filesystem, S3-compatible)
//   - MetadataStore: the authoritative FileRecord index (JSON file, Redis,
//     or a relational store), with secondary lookups by hash and expiry
//   - reaper/expiry and reaper/orphan: the two background reclamation loops
//
// See httpapi for the REST surface and config for configuration loading.
package blobcache
