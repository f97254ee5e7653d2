// Package changeset reads and merges cr-sqlite change rows.
//
// cr-sqlite exposes every replicated write through the crsql_changes virtual
// table. Pulling rows from one database and inserting them into another is
// all a sync needs; the extension resolves conflicts on insert.
//
// Changes are ordered by (db_version, seq), captured in a Cursor. A Batch wraps
// a contiguous run of changes from one site with the cursor range it covers,
// and serialises to JSON with values tagged by storage class:
//
//	{"t":"int","v":"42"}
//	{"t":"blob","v":"AQID"}
//	{"t":"null"}
//
// Usage:
//
//	changes, err := changeset.Pull(ctx, src, changeset.Start, changeset.LocalWrites, 500)
//	if err != nil {
//	    return err
//	}
//	if err := changeset.Apply(ctx, dst, changes); err != nil {
//	    return err
//	}
//
// Last-seen bookkeeping (EnsurePeersTable, LastSeen, SetLastSeen) records how
// far each remote site has been merged so a restarted peer resumes where it
// stopped.
package changeset
