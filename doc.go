/*
Package livedb implements live query results: a query result set that follows
a changing, server-synchronized store and tells its listeners exactly what
changed between two successive snapshots.

We implement:

1. ChangeSet, an immutable description of one snapshot transition: deleted,
inserted and modified positions, both as sorted indices and as compressed
ranges, plus the result state and remote loading flags.

2. A result state machine: initial, error (terminal) and loaded.

3. Results, the live result set, which asks its Source for a diff against the
last snapshot it observed whenever the source signals a change.

4. An observer registry with ordered, exactly-once delivery, and Loop, the
single-threaded owner context all delivery happens on.

The storage engine lives in package store; the partial sync client lives in
package partialsync.

# Technical Details

**Snapshot indices.**
Deletions index the previous snapshot. Insertions and modifications index the
new snapshot. The three sets may overlap numerically.

**Partial queries.**
A partial query is backed by a server-side subscription. Until the sync client
reports its remote data as loaded, every change set is initial and carries no
indices: observers see a result as either not loaded yet or complete, never
half-way.

**Errors.**
A query error is delivered once as an error change set, after which the result
set stops watching its source. Transient connectivity problems never produce
change sets.

**Coalescing.**
Sources may signal many times before the loop gets to run the refresh. The
diff is always computed against the snapshot the result set last observed,
so skipped engine versions never break index correctness.
*/
package livedb
