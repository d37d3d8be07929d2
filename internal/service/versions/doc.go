// Package versions implements the version graph of a project's dataset.
//
// Every successful mutation produces an immutable Version whose snapshot is
// stored under a key owned by that version alone:
//
//	projects/<project_id>/versions/<version_id>/snapshot.csv
//
// Prune deletes a record before its snapshot, so an object is never removed
// while a committed record points at it.
//
// Versions link to at most one parent. Children of a pruned version keep
// their parent id; history reports such versions as roots.
//
// Auditing:
//   - Project creation, version creation, branching and pruning each append
//     one audit event after the record is committed.
//   - Audit failures are logged and never undo a committed record.
package versions
