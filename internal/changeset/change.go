package changeset

import (
	"fmt"
	"strings"
)

// Change is one row of the crsql_changes virtual table.
//
// PK is the extension's packed encoding of the row's primary key and is
// passed back untouched. CID names the changed column, or is the sentinel
// "-1" for a row delete or create.
type Change struct {
	Table      string `json:"table"`
	PK         []byte `json:"pk"`
	CID        string `json:"cid"`
	Val        Value  `json:"val"`
	ColVersion int64  `json:"col_version"`
	DBVersion  int64  `json:"db_version"`
	SiteID     []byte `json:"site_id"`
	CL         int64  `json:"cl"`
	Seq        int64  `json:"seq"`
}

// Cursor marks a position in a database's change log.
// Changes are totally ordered by (db_version, seq).
type Cursor struct {
	DBVersion int64 `json:"db_version"`
	Seq       int64 `json:"seq"`
}

// Start is the cursor before any change.
// A fresh database reports db_version 0, so every real change lies after it.
var Start = Cursor{DBVersion: 0, Seq: -1}

// After reports whether c is strictly later than o.
func (c Cursor) After(o Cursor) bool {
	if c.DBVersion != o.DBVersion {
		return c.DBVersion > o.DBVersion
	}
	return c.Seq > o.Seq
}

// String renders the cursor as db_version.seq.
func (c Cursor) String() string {
	return fmt.Sprintf("%d.%d", c.DBVersion, c.Seq)
}

// Position returns the cursor of ch.
func (ch Change) Position() Cursor {
	return Cursor{DBVersion: ch.DBVersion, Seq: ch.Seq}
}

// Last returns the cursor of the latest change, or since when changes is empty.
func Last(since Cursor, changes []Change) Cursor {
	last := since
	for _, ch := range changes {
		if p := ch.Position(); p.After(last) {
			last = p
		}
	}
	return last
}

// Mode selects which changes a stream carries.
type Mode int

// Stream modes.
const (
	// LocalWrites carries only changes made on this site.
	LocalWrites Mode = iota

	// AllWrites carries every change, including ones merged in from peers.
	AllWrites
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case LocalWrites:
		return "local_writes"
	case AllWrites:
		return "all_writes"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a configuration name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local_writes", "":
		return LocalWrites, nil
	case "all_writes":
		return AllWrites, nil
	default:
		return LocalWrites, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}
