/*
Package store is a small document store that evaluates live queries for
package livedb.

Rows are msgpack documents kept under string keys in per-table buckets of a
key-value storage (Bolt on disk, or memory). Every committed write that
changes something gets the next version number, and watchers of the touched
tables are notified after the commit.

# Technical Details

**Buckets.**
One root bucket per table, named "t:<table>", plus a "meta" bucket holding
the current version. Tables whose names start with "__" belong to
collaborators such as the sync client.

**Value**: flags (uvarint), stamp (uvarint), msgpack data. The stamp is the
version of the commit that last changed the data bytes, which is what makes a
row "modified" in a diff. Stamps keep growing across a delete and re-put of
the same key.

**Diffs.**
Snapshots are diffed by key. Surviving rows that keep their relative order
stay in place; the rest are reported as moves (a deletion plus an insertion).
*/
package store
