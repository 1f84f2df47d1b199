package dashboard

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/posync/internal/cache"
	"github.com/marcus/posync/internal/db"
	"github.com/marcus/posync/internal/models"
	"github.com/marcus/posync/internal/offline"
	"github.com/marcus/posync/internal/syncer"
)

type fakeSource struct {
	online    bool
	sales     int
	lines     int
	attention []models.PendingOperation
	countErr  error
	syncs     int
	refreshes []models.CollectionKey
	report    offline.SyncReport
}

func (f *fakeSource) IsOnline() bool { return f.online }

func (f *fakeSource) CountPending(ctx context.Context, kinds ...models.OperationKind) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	if len(kinds) == 1 && kinds[0] == models.KindSale {
		return f.sales, nil
	}
	return f.lines, nil
}

func (f *fakeSource) NeedsAttention(ctx context.Context) ([]models.PendingOperation, error) {
	return f.attention, nil
}

func (f *fakeSource) ListCollections(ctx context.Context) ([]db.CollectionInfo, error) {
	return []db.CollectionInfo{{Key: models.ProductsKey, Records: 4, RefreshedAt: time.Now()}}, nil
}

func (f *fakeSource) LastSessions() offline.SyncReport { return f.report }

func (f *fakeSource) SyncAll(ctx context.Context) (offline.SyncReport, error) {
	f.syncs++
	return f.report, nil
}

func (f *fakeSource) Refresh(ctx context.Context, key models.CollectionKey) (cache.RefreshResult, error) {
	f.refreshes = append(f.refreshes, key)
	if key == models.ClientsKey {
		return cache.RefreshResult{}, errors.New("boom")
	}
	return cache.RefreshResult{Changed: true}, nil
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestFetchData(t *testing.T) {
	src := &fakeSource{online: true, sales: 3, lines: 2}
	snap := FetchData(context.Background(), src)
	if snap.Err != nil {
		t.Fatalf("FetchData: %v", snap.Err)
	}
	if !snap.Online || snap.PendingSales != 3 || snap.PendingLines != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Collections) != 1 {
		t.Fatalf("collections = %d, want 1", len(snap.Collections))
	}
}

func TestFetchDataKeepsError(t *testing.T) {
	src := &fakeSource{countErr: errors.New("disk gone")}
	snap := FetchData(context.Background(), src)
	if snap.Err == nil {
		t.Fatal("expected error")
	}

	m := NewModel(src, time.Second, "")
	updated, _ := m.Update(snap)
	view := updated.(Model).View()
	if !strings.Contains(view, "disk gone") {
		t.Errorf("view does not show the store error:\n%s", view)
	}
}

func TestViewShowsQueueAndAttention(t *testing.T) {
	src := &fakeSource{
		online: false,
		sales:  5,
		attention: []models.PendingOperation{{
			Token:     "abcdef123456",
			Kind:      models.KindSale,
			State:     models.StateFailedTerminal,
			Payload:   []byte(`{"lines":[{"product_id":"p-oil","quantity":50,"unit_price_cents":100}]}`),
			LastError: "insufficient stock",
		}},
	}
	m := NewModel(src, time.Second, "v1.2.3")
	updated, _ := m.Update(FetchData(context.Background(), src))
	view := updated.(Model).View()

	for _, want := range []string{"offline", "v1.2.3", "sales", "5", "Needs attention", "abcdef12", "insufficient stock", "products"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestSyncKey(t *testing.T) {
	src := &fakeSource{report: offline.SyncReport{
		Sales: &syncer.SyncSession{Name: "sales", Attempted: []string{"a", "b"}, Succeeded: []string{"a"}, Terminal: []string{"b"}},
	}}
	m := NewModel(src, time.Second, "")

	updated, cmd := m.Update(runes("s"))
	m = updated.(Model)
	if !m.Syncing {
		t.Fatal("expected Syncing after s")
	}
	if cmd == nil {
		t.Fatal("expected a command")
	}

	// A second press while syncing does nothing
	updated, cmd = m.Update(runes("s"))
	m = updated.(Model)
	if cmd != nil {
		t.Error("second s should not start another sync")
	}

	msg := m.runSync()()
	done, ok := msg.(SyncDoneMsg)
	if !ok {
		t.Fatalf("runSync returned %T", msg)
	}
	if src.syncs != 1 {
		t.Fatalf("SyncAll called %d times, want 1", src.syncs)
	}

	updated, _ = m.Update(done)
	m = updated.(Model)
	if m.Syncing {
		t.Error("Syncing still set after SyncDoneMsg")
	}
	if m.Status != "sent 1, 1 rejected" || !m.StatusErr {
		t.Errorf("status = %q (err %v)", m.Status, m.StatusErr)
	}
}

func TestRefreshKey(t *testing.T) {
	src := &fakeSource{}
	m := NewModel(src, time.Second, "")

	updated, cmd := m.Update(runes("r"))
	m = updated.(Model)
	if !m.Refreshing || cmd == nil {
		t.Fatal("expected refresh to start")
	}

	done := m.runRefresh()().(RefreshDoneMsg)
	if len(src.refreshes) != 3 {
		t.Fatalf("refreshed %d collections, want 3", len(src.refreshes))
	}
	if done.Updated != 2 || done.Err == nil {
		t.Fatalf("done = %+v", done)
	}

	updated, _ = m.Update(done)
	m = updated.(Model)
	if m.Refreshing || !m.StatusErr {
		t.Errorf("after refresh: refreshing=%v statusErr=%v", m.Refreshing, m.StatusErr)
	}
}

func TestQuitKey(t *testing.T) {
	m := NewModel(&fakeSource{}, time.Second, "")
	_, cmd := m.Update(runes("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}

func TestDescribeSyncOffline(t *testing.T) {
	msg := SyncDoneMsg{Report: offline.SyncReport{
		Sales: &syncer.SyncSession{Succeeded: []string{"a"}, WentOffline: true},
	}}
	got, isErr := describeSync(msg)
	if got != "sent 1, backend unreachable" || !isErr {
		t.Errorf("describeSync = %q, %v", got, isErr)
	}
}

func TestWindowSize(t *testing.T) {
	m := NewModel(&fakeSource{}, time.Second, "")
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = updated.(Model)
	if m.Width != 120 || m.Height != 40 {
		t.Errorf("size = %dx%d", m.Width, m.Height)
	}
}
