// Package deeppager provides deep, random-access pagination over search
// engines that only offer linear scroll cursors.
//
// # Overview
//
// Offset paging (from/size) degrades badly deep into a result set of an
// inverted-index engine. deeppager instead walks a scroll cursor with
// document bodies switched off, keeps the ids of the requested page and
// fetches the full documents for those ids in one extra request.
//
// # Key concepts
//
//   - DeepPager: orchestrates the walk, cursor cleanup and decoding.
//   - SearchBackend: the engine capability (search, scroll advance, scroll
//     close, id search). Implementations live in esbackend (Elasticsearch),
//     osbackend (OpenSearch) and gormbackend (SQL tables via GORM).
//   - DocumentCodec: schema-driven conversion of hit bodies into Go values.
//   - Orderings: multi-column ordering with explicit directions.
//
// # Consistency
//
// Page.Total comes from the first search of a walk. Documents written or
// deleted while the cursor advances may shift pages; this is not corrected.
package deeppager
