package history

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dictamic/internal/domain"
)

func TestStoreAppendAndListNewestFirst(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "nested", "history.log"))
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, text := range []string{"first", "second", "third"} {
		if err := store.Append(domain.HistoryEntry{Timestamp: base.Add(time.Duration(i) * time.Minute), Text: text}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	entries, err := store.List(2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Text != "third" || entries[1].Text != "second" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if !entries[0].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("timestamp not round-tripped: %v", entries[0].Timestamp)
	}
}

func TestStoreWritesOneJSONObjectPerLine(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.log")
	store := NewStore(path)
	store.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	if err := store.Append(domain.HistoryEntry{Text: "  line one\nline two  "}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := store.Append(domain.HistoryEntry{Text: "   "}); err != nil {
		t.Fatalf("blank append failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	want := `{"ts":"2026-01-01T00:00:00Z","text":"line one\nline two"}` + "\n"
	if string(raw) != want {
		t.Fatalf("unexpected file contents: %q", raw)
	}
}

func TestStoreToleratesLegacyAndLogLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.log")
	contents := strings.Join([]string{
		"legacy plain transcript",
		"[INFO] backend started",
		"3/14/2026, 10:00:00 AM something",
		"2026-03-14 10:00:00,123 INFO loaded model",
		`{"ts":"2026-03-14T10:01:00Z","text":"json transcript"}`,
		`{"ts":"bad","text":"no timestamp"}`,
		`{"text":""}`,
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	entries, err := NewStore(path).List(0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	var texts []string
	for _, e := range entries {
		texts = append(texts, e.Text)
	}
	got := strings.Join(texts, "|")
	if got != "no timestamp|json transcript|legacy plain transcript" {
		t.Fatalf("unexpected entries: %q", got)
	}
	if !entries[0].Timestamp.IsZero() {
		t.Fatalf("unparseable timestamp should be zero")
	}
}

func TestStoreSearchLatestAndClear(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "history.log"))
	for _, text := range []string{"Deploy the build", "lunch order", "deploy again"} {
		if err := store.Append(domain.HistoryEntry{Text: text}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	found, err := store.Search("DEPLOY", 0)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(found) != 2 || found[0].Text != "deploy again" {
		t.Fatalf("unexpected search result: %+v", found)
	}

	latest, ok, err := store.Latest()
	if err != nil || !ok || latest.Text != "deploy again" {
		t.Fatalf("unexpected latest: %+v ok=%v err=%v", latest, ok, err)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if entries, _ := store.List(0); len(entries) != 0 {
		t.Fatalf("expected empty history after clear, got %d", len(entries))
	}
}

func TestStoreMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "absent.log"))
	entries, err := store.List(10)
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty list, got %v err=%v", entries, err)
	}
	if _, ok, _ := store.Latest(); ok {
		t.Fatalf("expected no latest entry")
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("clear of missing file failed: %v", err)
	}
}
