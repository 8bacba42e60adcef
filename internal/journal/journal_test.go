package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st, path
}

func TestOpenAndMigrate(t *testing.T) {
	st, path := openTestStore(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file not created: %v", err)
	}

	var version string
	if err := st.db.Get(&version, "SELECT value FROM metadata WHERE key = 'schema_version'"); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != "1" {
		t.Fatalf("unexpected schema version: %s", version)
	}
}

func TestOpen_Reopen(t *testing.T) {
	st, path := openTestStore(t)
	ctx := context.Background()
	if err := st.StartRun(ctx, "run-1", time.Now(), false); err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = again.Close() }()

	var n int
	if err := again.db.Get(&n, "SELECT COUNT(*) FROM runs"); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("runs = %d, want 1", n)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestRunLifecycle(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := st.StartRun(ctx, "run-1", start, true); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := st.StartRun(ctx, "run-1", start, true); err == nil {
		t.Error("duplicate run id should fail")
	}
	if err := st.FinishRun(ctx, "run-1", start.Add(time.Minute)); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	if err := st.FinishRun(ctx, "missing", start); err == nil {
		t.Error("finishing an unknown run should fail")
	}

	var finished string
	var dryRun int
	row := st.db.QueryRowx("SELECT finished_at, dry_run FROM runs WHERE id = 'run-1'")
	if err := row.Scan(&finished, &dryRun); err != nil {
		t.Fatal(err)
	}
	if finished != "2026-03-01T12:01:00.000000000Z" || dryRun != 1 {
		t.Errorf("finished_at = %q, dry_run = %d", finished, dryRun)
	}
}

func TestRecordPostAndRecent(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := st.StartRun(ctx, "run-1", base, false); err != nil {
		t.Fatal(err)
	}

	records := []Post{
		{RunID: "run-1", Section: "tech", Kind: "welcome", Status: StatusPosted, RemoteID: "1", CreatedAt: base},
		{RunID: "run-1", Section: "tech", Kind: "item", Title: "One", Link: "https://example.com/1", Fingerprint: "abc", Items: 1, Status: StatusPosted, RemoteID: "2", CreatedAt: base.Add(time.Second)},
		{RunID: "run-1", Section: "tech", Kind: "item", Title: "Two", Link: "https://example.com/2", Items: 1, Status: StatusFailed, Error: "HTTP 503", CreatedAt: base.Add(2 * time.Second)},
		{RunID: "run-1", Section: "world", Kind: "digest", Items: 7, Status: StatusPosted, RemoteID: "3", CreatedAt: base.Add(3 * time.Second)},
	}
	for _, r := range records {
		if err := st.RecordPost(ctx, r); err != nil {
			t.Fatalf("record post: %v", err)
		}
	}

	all, err := st.Recent(ctx, Filter{})
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("got %d posts, want 4", len(all))
	}
	if all[0].Kind != "digest" || all[0].Items != 7 {
		t.Errorf("newest = %+v, want the digest", all[0])
	}
	if !all[3].CreatedAt.Equal(base) {
		t.Errorf("oldest created_at = %v, want %v", all[3].CreatedAt, base)
	}

	tech, err := st.Recent(ctx, Filter{Section: "tech", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(tech) != 2 || tech[0].Title != "Two" || tech[0].Error != "HTTP 503" {
		t.Errorf("tech = %+v", tech)
	}

	failed, err := st.Recent(ctx, Filter{Status: StatusFailed})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].Link != "https://example.com/2" {
		t.Errorf("failed = %+v", failed)
	}
}

func TestRecordPost_Validation(t *testing.T) {
	st, _ := openTestStore(t)
	if err := st.RecordPost(context.Background(), Post{Section: "tech"}); err == nil {
		t.Error("expected validation error")
	}
}

func TestRecordPost_UnknownRunRejected(t *testing.T) {
	st, _ := openTestStore(t)
	err := st.RecordPost(context.Background(), Post{RunID: "nope", Section: "tech", Kind: "item", Status: StatusPosted})
	if err == nil {
		t.Error("foreign key should reject a post for an unknown run")
	}
}

func TestRecentDestinations(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := st.StartRun(ctx, "run-1", base, false); err != nil {
		t.Fatal(err)
	}
	dests := []Destination{
		{RunID: "run-1", Section: "tech", State: "done", Watermark: base.Add(-time.Hour), FeedsOK: 3, FeedsFailed: 1, Items: 4, RecordedAt: base},
		{RunID: "run-1", Section: "world", State: "skipped", Reason: "missing credentials", RecordedAt: base.Add(time.Second)},
	}
	for _, d := range dests {
		if err := st.RecordDestination(ctx, d); err != nil {
			t.Fatalf("record destination: %v", err)
		}
	}

	got, err := st.RecentDestinations(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d, want 2", len(got))
	}
	if got[0].Section != "world" || got[0].Reason != "missing credentials" || !got[0].Watermark.IsZero() {
		t.Errorf("newest = %+v", got[0])
	}
	if got[1].FeedsFailed != 1 || !got[1].Watermark.Equal(base.Add(-time.Hour)) {
		t.Errorf("oldest = %+v", got[1])
	}

	tech, err := st.RecentDestinations(ctx, Filter{Section: "tech"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tech) != 1 {
		t.Errorf("tech = %+v", tech)
	}
}

func TestStats(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	if err := st.StartRun(ctx, "run-1", base, false); err != nil {
		t.Fatal(err)
	}
	for _, p := range []Post{
		{RunID: "run-1", Section: "tech", Kind: "item", Items: 1, Status: StatusPosted, CreatedAt: base},
		{RunID: "run-1", Section: "tech", Kind: "item", Items: 1, Status: StatusFailed, CreatedAt: base.Add(time.Minute)},
		{RunID: "run-1", Section: "tech", Kind: "digest", Items: 6, Status: StatusPosted, CreatedAt: base.Add(2 * time.Minute)},
		{RunID: "run-1", Section: "world", Kind: "item", Items: 1, Status: StatusFailed, CreatedAt: base},
	} {
		if err := st.RecordPost(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := st.Stats(ctx, base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d sections, want 2", len(stats))
	}

	tech := stats[0]
	if tech.Section != "tech" || tech.Posted != 2 || tech.Failed != 1 || tech.Digests != 1 || tech.Items != 7 {
		t.Errorf("tech = %+v", tech)
	}
	if !tech.LastPost.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("last post = %v, want %v", tech.LastPost, base.Add(2*time.Minute))
	}

	world := stats[1]
	if world.Posted != 0 || world.Failed != 1 || !world.LastPost.IsZero() {
		t.Errorf("world = %+v", world)
	}
}

func TestPruneOld(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := st.StartRun(ctx, "old", now.AddDate(0, 0, -40), false); err != nil {
		t.Fatal(err)
	}
	if err := st.StartRun(ctx, "new", now, false); err != nil {
		t.Fatal(err)
	}
	if err := st.RecordPost(ctx, Post{RunID: "old", Section: "tech", Kind: "item", Status: StatusPosted, CreatedAt: now.AddDate(0, 0, -40)}); err != nil {
		t.Fatal(err)
	}

	n, err := st.PruneOld(ctx, 30)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d runs, want 1", n)
	}

	posts, err := st.Recent(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 0 {
		t.Errorf("posts of pruned run should cascade, got %d", len(posts))
	}

	if n, _ := st.PruneOld(ctx, 0); n != 0 {
		t.Error("retainDays=0 should not prune")
	}
}

func TestNilStore(t *testing.T) {
	var st *Store
	if err := st.Close(); err != nil {
		t.Errorf("nil close: %v", err)
	}
	if err := st.RecordPost(context.Background(), Post{}); err == nil {
		t.Error("nil store should error")
	}
}
