package cli

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/matzehuels/masonry/pkg/feed"
	"github.com/matzehuels/masonry/pkg/masonry"
	"github.com/matzehuels/masonry/pkg/notify"
)

// run executes cmd and every command it batches.
func run(cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	if batch, ok := cmd().(tea.BatchMsg); ok {
		for _, c := range batch {
			run(c)
		}
	}
}

// boundaryRecorder collects the latest distance per edge.
type boundaryRecorder struct {
	mu   sync.Mutex
	last map[notify.Edge]float64
}

func record(t *testing.T, hub *notify.Hub[notify.Boundary]) *boundaryRecorder {
	t.Helper()
	r := &boundaryRecorder{last: make(map[notify.Edge]float64)}
	if _, err := hub.Register(func(b notify.Boundary) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.last[b.Edge] = b.Distance
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return r
}

func (r *boundaryRecorder) get(edge notify.Edge) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.last[edge]
	return d, ok
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// scrollModel returns a model showing 6 of 30 content lines.
func scrollModel(vis *notify.Hub[notify.Boundary]) browseModel {
	m := newBrowseModel(nil, notify.NewViewportHub(), vis)
	m.height = 6 + chromeLines
	m.lines = make([]string, 30)
	return m
}

func TestBrowseModelScrollReportsDistances(t *testing.T) {
	vis := notify.NewVisibilityHub()
	rec := record(t, vis)

	tests := []struct {
		name       string
		keys       []string
		top        float64
		bottom     float64
		wantOffset int
	}{
		{"one line down", []string{"j"}, 1 * lineHeight, 23 * lineHeight, 1},
		{"down then up", []string{"j", "j", "k"}, 1 * lineHeight, 23 * lineHeight, 1},
		{"page down", []string{" "}, 6 * lineHeight, 18 * lineHeight, 6},
		{"bottom", []string{"G"}, 24 * lineHeight, 0, 24},
		{"bottom then top", []string{"G", "g"}, 0, 24 * lineHeight, 0},
		{"clamped at top", []string{"k"}, 0, 24 * lineHeight, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var model tea.Model = scrollModel(vis)
			for _, k := range tt.keys {
				var cmd tea.Cmd
				model, cmd = model.Update(key(k))
				run(cmd)
			}

			m := model.(browseModel)
			if m.offset != tt.wantOffset {
				t.Errorf("offset = %d, want %d", m.offset, tt.wantOffset)
			}
			if d, _ := rec.get(notify.Top); d != tt.top {
				t.Errorf("top distance = %g, want %g", d, tt.top)
			}
			if d, _ := rec.get(notify.Bottom); d != tt.bottom {
				t.Errorf("bottom distance = %g, want %g", d, tt.bottom)
			}
		})
	}
}

func TestBrowseModelResizePublishesViewport(t *testing.T) {
	vp := notify.NewViewportHub()
	m := newBrowseModel(nil, vp, notify.NewVisibilityHub())

	_, cmd := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	run(cmd)

	got, ok := vp.Last()
	if !ok {
		t.Fatal("resize should publish a viewport size")
	}
	if want := (notify.Size{Width: 100 * pxPerCell, Height: 30 * lineHeight}); got != want {
		t.Errorf("viewport size = %+v, want %+v", got, want)
	}
}

func TestBrowseModelRendersState(t *testing.T) {
	items := make([]feed.Item, 8)
	for i := range items {
		items[i] = feed.Item{ID: fmt.Sprint(i), Title: fmt.Sprintf("Card %d", i), Height: 200}
	}
	state := masonry.Compose(masonry.DefaultConfig(), 100*pxPerCell, feed.Snapshot{
		Items: items,
		Range: feed.PageRange{Min: 1, Max: 1},
		Meta:  feed.Meta{Page: 1, TotalPages: 3, HasNextPage: true},
	})

	vis := notify.NewVisibilityHub()
	rec := record(t, vis)
	m := newBrowseModel(nil, notify.NewViewportHub(), vis)
	m.width, m.height = 100, 20

	model, cmd := m.Update(stateMsg(state))
	run(cmd)
	m = model.(browseModel)

	if len(m.lines) == 0 {
		t.Fatal("state should produce content lines")
	}
	if _, ok := rec.get(notify.Bottom); !ok {
		t.Error("new content should report the bottom distance")
	}

	view := m.View()
	for _, want := range []string{"Card 0", "8 items", "pages [1..1]", "of 3"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestBrowseModelShowsFetchErrors(t *testing.T) {
	m := newBrowseModel(nil, notify.NewViewportHub(), notify.NewVisibilityHub())

	model, _ := m.Update(fetchDoneMsg{action: "load more", outcome: feed.GapRejected})
	if view := model.View(); !strings.Contains(view, "load more: "+feed.GapRejected.String()) {
		t.Errorf("view should report the rejected fetch:\n%s", view)
	}

	model, _ = model.Update(fetchDoneMsg{action: "load more", outcome: feed.Applied})
	if model.(browseModel).notice != "" {
		t.Error("an applied fetch should clear the notice")
	}
}

func TestBrowseModelQuit(t *testing.T) {
	m := newBrowseModel(nil, notify.NewViewportHub(), notify.NewVisibilityHub())
	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestRenderCardsEmpty(t *testing.T) {
	if lines := renderCards(masonry.NewState(), 20); lines != nil {
		t.Errorf("renderCards(empty) = %v, want nil", lines)
	}
}

func TestCardBodyLines(t *testing.T) {
	tests := []struct {
		height float64
		want   int
	}{
		{0, 1},
		{40, 1},
		{128, 2},
		{320, 5},
		{2000, 6},
	}
	for _, tt := range tests {
		if got := cardBodyLines(feed.Item{Height: tt.height}); got != tt.want {
			t.Errorf("cardBodyLines(%g) = %d, want %d", tt.height, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"Atlas", 10, "Atlas"},
		{"Atlas", 5, "Atlas"},
		{"Atlas 12", 6, "Atlas…"},
		{"Atlas", 1, "…"},
		{"Atlas", 0, "Atlas"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestColumnCellWidth(t *testing.T) {
	if got := columnCellWidth(1280, 4); got != 37 {
		t.Errorf("columnCellWidth(1280, 4) = %d, want 37", got)
	}
	if got := columnCellWidth(100, 4); got != 8 {
		t.Errorf("narrow columns should be clamped to 8, got %d", got)
	}
	if got := columnCellWidth(1280, 0); got != 0 {
		t.Errorf("columnCellWidth without columns = %d, want 0", got)
	}
}
