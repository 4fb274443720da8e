//go:build cgo

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "traces.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewRunsMigrations(t *testing.T) {
	s := newTestStore(t)
	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != migrations[len(migrations)-1].version {
		t.Errorf("schema version = %d, want %d", v, migrations[len(migrations)-1].version)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "dir", "traces.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func TestSQLitePutGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	in := sampleTrace("pipeline_a", "hash1", time.Now())

	if err := s.Put(ctx, in); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "pipeline_a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DocumentHash != "hash1" || len(got.ExpertTraces) != 2 || !got.Consistent() {
		t.Errorf("round trip = %+v", got)
	}

	var rows int
	s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM extraction_traces WHERE pipeline_id = ?", "pipeline_a").Scan(&rows)
	if rows != 2 {
		t.Errorf("extraction rows = %d, want 2", rows)
	}
}

func TestSQLitePutReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	in := sampleTrace("pipeline_a", "hash1", time.Now())
	s.Put(ctx, in)
	in.Warnings = append(in.Warnings, "late warning")
	if err := s.Put(ctx, in); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	got, _ := s.Get(ctx, "pipeline_a")
	if len(got.Warnings) != 2 {
		t.Errorf("warnings = %v", got.Warnings)
	}
	var rows int
	s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM extraction_traces").Scan(&rows)
	if rows != 2 {
		t.Errorf("extraction rows after replace = %d, want 2", rows)
	}
}

func TestSQLiteNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteListOrderAndDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Put(ctx, sampleTrace("p_old", "same", base))
	s.Put(ctx, sampleTrace("p_new", "same", base.Add(time.Minute)))
	s.Put(ctx, sampleTrace("p_other", "different", base.Add(30*time.Second)))

	all, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got := ids(all); len(got) != 3 || got[0] != "p_new" || got[1] != "p_other" || got[2] != "p_old" {
		t.Errorf("order = %v", got)
	}
	limited, _ := s.List(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("List(1) = %d", len(limited))
	}
	same, _ := s.ListByDocument(ctx, "same", 0)
	if got := ids(same); len(got) != 2 || got[0] != "p_new" {
		t.Errorf("ListByDocument = %v", got)
	}
}

func TestSQLiteExpertStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Put(ctx, sampleTrace("p1", "h", time.Now()))
	s.Put(ctx, sampleTrace("p2", "h", time.Now()))

	stats, err := s.ExpertStats(ctx)
	if err != nil {
		t.Fatalf("ExpertStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	contract, risk := stats[0], stats[1]
	if contract.Expert != "ContractExpert" || contract.Runs != 2 || contract.Entities != 4 {
		t.Errorf("contract stats = %+v", contract)
	}
	if risk.Fallbacks != 2 || risk.Failures != 2 || risk.Rejected != 2 {
		t.Errorf("risk stats = %+v", risk)
	}
}

func TestSQLiteClosed(t *testing.T) {
	s := newTestStore(t)
	s.Close()
	if err := s.Put(context.Background(), sampleTrace("p", "h", time.Now())); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}
