package changeset

import (
	"bytes"
	"context"
	"testing"
)

func TestPull(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	seed := []Change{
		change(1, 0, testSiteID, TextValue("a")),
		change(1, 1, testSiteID, TextValue("b")),
		change(2, 0, peerSiteID, TextValue("c")),
		change(3, 0, testSiteID, TextValue("d")),
	}
	if err := Apply(ctx, db, seed); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	tests := []struct {
		name  string
		since Cursor
		mode  Mode
		limit int
		want  []string
	}{
		{name: "all writes from start", since: Start, mode: AllWrites, want: []string{`"a"`, `"b"`, `"c"`, `"d"`}},
		{name: "local writes skip peer rows", since: Start, mode: LocalWrites, want: []string{`"a"`, `"b"`, `"d"`}},
		{name: "cursor inside a db version", since: Cursor{DBVersion: 1, Seq: 0}, mode: AllWrites, want: []string{`"b"`, `"c"`, `"d"`}},
		{name: "limit", since: Start, mode: AllWrites, limit: 2, want: []string{`"a"`, `"b"`}},
		{name: "nothing newer", since: Cursor{DBVersion: 3, Seq: 0}, mode: AllWrites, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Pull(ctx, db, tt.since, tt.mode, tt.limit)
			if err != nil {
				t.Fatalf("Pull() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Pull() returned %d changes, want %d", len(got), len(tt.want))
			}
			for i, ch := range got {
				if ch.Val.String() != tt.want[i] {
					t.Errorf("change %d val = %s, want %s", i, ch.Val, tt.want[i])
				}
			}
		})
	}
}

func TestPull_NullSiteIsLocal(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx,
		`INSERT INTO crsql_changes VALUES ('todo', x'01', 'text', 'x', 1, 1, NULL, 1, 0)`,
	); err != nil {
		t.Fatalf("INSERT error = %v", err)
	}

	got, err := Pull(ctx, db, Start, LocalWrites, 0)
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Pull() returned %d changes, want 1", len(got))
	}
	if !bytes.Equal(got[0].SiteID, testSiteID[:]) {
		t.Errorf("SiteID = %x, want local site %x", got[0].SiteID, testSiteID[:])
	}
}

func TestApply_PreservesValues(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	values := []Value{
		IntValue(-9007199254740993),
		RealValue(0.1),
		TextValue("42"),
		BlobValue([]byte{0x00, 0xff}),
		Null,
	}
	var in []Change
	for i, v := range values {
		in = append(in, change(int64(i+1), 0, peerSiteID, v))
	}

	if err := Apply(ctx, db, in); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	out, err := Pull(ctx, db, Start, AllWrites, 0)
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("Pull() returned %d changes, want %d", len(out), len(in))
	}
	for i := range in {
		if !out[i].Val.Equal(in[i].Val) {
			t.Errorf("change %d val = %s (%s), want %s (%s)",
				i, out[i].Val, out[i].Val.Kind, in[i].Val, in[i].Val.Kind)
		}
		if !bytes.Equal(out[i].PK, in[i].PK) {
			t.Errorf("change %d pk = %x, want %x", i, out[i].PK, in[i].PK)
		}
		if out[i].Position() != in[i].Position() {
			t.Errorf("change %d position = %s, want %s", i, out[i].Position(), in[i].Position())
		}
	}
}

func TestApply_Atomic(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	bad := change(2, 0, peerSiteID, IntValue(2))
	bad.Table = ""

	err := Apply(ctx, db, []Change{change(1, 0, peerSiteID, IntValue(1)), bad})
	if err == nil {
		t.Fatal("Apply() expected error for rejected change")
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM crsql_changes").Scan(&count); err != nil {
		t.Fatalf("SELECT error = %v", err)
	}
	if count != 0 {
		t.Errorf("rows = %d after failed Apply, want 0", count)
	}
}

func TestApply_Empty(t *testing.T) {
	db := openTestDB(t)

	if err := Apply(context.Background(), db, nil); err != nil {
		t.Errorf("Apply(nil) error = %v", err)
	}
}

func TestLastSeen(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := EnsurePeersTable(ctx, db); err != nil {
		t.Fatalf("EnsurePeersTable() error = %v", err)
	}
	// Idempotent.
	if err := EnsurePeersTable(ctx, db); err != nil {
		t.Fatalf("second EnsurePeersTable() error = %v", err)
	}

	got, err := LastSeen(ctx, db, peerSiteID)
	if err != nil {
		t.Fatalf("LastSeen() error = %v", err)
	}
	if got != Start {
		t.Errorf("LastSeen() for unknown site = %s, want %s", got, Start)
	}

	steps := []struct {
		set  Cursor
		want Cursor
	}{
		{set: Cursor{DBVersion: 4, Seq: 2}, want: Cursor{DBVersion: 4, Seq: 2}},
		{set: Cursor{DBVersion: 4, Seq: 1}, want: Cursor{DBVersion: 4, Seq: 2}},
		{set: Cursor{DBVersion: 3, Seq: 9}, want: Cursor{DBVersion: 4, Seq: 2}},
		{set: Cursor{DBVersion: 5, Seq: 0}, want: Cursor{DBVersion: 5, Seq: 0}},
	}
	for _, s := range steps {
		if err := SetLastSeen(ctx, db, peerSiteID, s.set); err != nil {
			t.Fatalf("SetLastSeen(%s) error = %v", s.set, err)
		}
		got, err := LastSeen(ctx, db, peerSiteID)
		if err != nil {
			t.Fatalf("LastSeen() error = %v", err)
		}
		if got != s.want {
			t.Errorf("after SetLastSeen(%s) LastSeen() = %s, want %s", s.set, got, s.want)
		}
	}

	other, err := LastSeen(ctx, db, testSiteID)
	if err != nil {
		t.Fatalf("LastSeen() error = %v", err)
	}
	if other != Start {
		t.Errorf("LastSeen() for untouched site = %s, want %s", other, Start)
	}
}

func TestMerge(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := EnsurePeersTable(ctx, db); err != nil {
		t.Fatalf("EnsurePeersTable() error = %v", err)
	}

	until := Cursor{DBVersion: 2, Seq: 0}
	changes := []Change{
		change(1, 0, peerSiteID, TextValue("a")),
		change(2, 0, peerSiteID, TextValue("b")),
	}
	if err := Merge(ctx, db, peerSiteID, changes, until); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	got, err := Pull(ctx, db, Start, AllWrites, 0)
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("rows = %d after Merge, want 2", len(got))
	}
	seen, err := LastSeen(ctx, db, peerSiteID)
	if err != nil {
		t.Fatalf("LastSeen() error = %v", err)
	}
	if seen != until {
		t.Errorf("LastSeen() = %s, want %s", seen, until)
	}
}

func TestMerge_FailureKeepsLastSeen(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := EnsurePeersTable(ctx, db); err != nil {
		t.Fatalf("EnsurePeersTable() error = %v", err)
	}

	bad := change(2, 0, peerSiteID, IntValue(2))
	bad.Table = ""
	err := Merge(ctx, db, peerSiteID, []Change{change(1, 0, peerSiteID, IntValue(1)), bad}, Cursor{DBVersion: 2, Seq: 0})
	if err == nil {
		t.Fatal("Merge() expected error for rejected change")
	}

	seen, err := LastSeen(ctx, db, peerSiteID)
	if err != nil {
		t.Fatalf("LastSeen() error = %v", err)
	}
	if seen != Start {
		t.Errorf("LastSeen() = %s after failed Merge, want %s", seen, Start)
	}
	got, err := Pull(ctx, db, Start, AllWrites, 0)
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("rows = %d after failed Merge, want 0", len(got))
	}
}

func TestMerge_EmptyRecordsCursor(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := EnsurePeersTable(ctx, db); err != nil {
		t.Fatalf("EnsurePeersTable() error = %v", err)
	}

	until := Cursor{DBVersion: 7, Seq: 3}
	if err := Merge(ctx, db, peerSiteID, nil, until); err != nil {
		t.Fatalf("Merge(nil) error = %v", err)
	}
	seen, err := LastSeen(ctx, db, peerSiteID)
	if err != nil {
		t.Fatalf("LastSeen() error = %v", err)
	}
	if seen != until {
		t.Errorf("LastSeen() = %s, want %s", seen, until)
	}
}
