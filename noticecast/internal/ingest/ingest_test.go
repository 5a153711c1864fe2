package ingest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/agrivoice/dbopen"
	"github.com/hazyhaar/agrivoice/noticecast/internal/source"
	"github.com/hazyhaar/agrivoice/noticecast/internal/speech"
	"github.com/hazyhaar/agrivoice/noticecast/internal/store"
)

type fakeSource struct {
	items []source.Item
	err   error
}

func (f *fakeSource) Fetch(context.Context) ([]source.Item, error) { return f.items, f.err }

type fakeSynth struct {
	calls []string
	fail  map[string]bool
}

func (f *fakeSynth) Synthesize(_ context.Context, text, lang string) (*speech.Artifact, error) {
	f.calls = append(f.calls, text)
	if f.fail[text] {
		return nil, fmt.Errorf("%w: quota", speech.ErrSynthesisFailed)
	}
	return &speech.Artifact{Name: fmt.Sprintf("notice_%d.mp3", len(f.calls))}, nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	return store.NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
}

type snapshot struct {
	notices []*store.Notice
	cursor  string
}

func snap(t *testing.T, st *store.Store) snapshot {
	t.Helper()
	ns, err := st.NoticesInOrder(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	cur, err := st.Cursor(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return snapshot{ns, cur}
}

func texts(ns []*store.Notice) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.Text
	}
	return out
}

func TestIngest_FirstRunScenario(t *testing.T) {
	// WHAT: Empty cursor, two items newest-first: both stored oldest-first,
	// cursor moves to the newest id.
	// WHY: First run must ingest everything in chronological order.
	st := openTestStore(t)
	src := &fakeSource{items: []source.Item{
		{ID: "b", Title: "Subsidy update"},
		{ID: "a", Title: "Rain alert"},
	}}
	var fired int
	p := New(st, src, &fakeSynth{}, Config{OnNew: func(_ context.Context, n int) { fired = n }}, nil)

	res, err := p.Ingest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.NewNotices != 2 || res.CursorBefore != "" || res.CursorAfter != "b" {
		t.Fatalf("result = %+v", res)
	}
	s := snap(t, st)
	if got := texts(s.notices); !reflect.DeepEqual(got, []string{"Rain alert", "Subsidy update"}) {
		t.Fatalf("stored order = %v", got)
	}
	if s.cursor != "b" {
		t.Fatalf("cursor = %q", s.cursor)
	}
	for _, n := range s.notices {
		if n.Source != store.SourceExternalFeed || n.Audio == "" {
			t.Errorf("notice %+v", n)
		}
	}
	if fired != 2 {
		t.Errorf("OnNew got %d, want 2", fired)
	}
}

func TestIngest_NothingNewLeavesStateUntouched(t *testing.T) {
	// WHAT: Cursor "b", source still lists b then a: nothing changes.
	// WHY: Idle runs must not mutate the store or re-trigger distribution.
	st := openTestStore(t)
	ctx := context.Background()
	items := []source.Item{{ID: "b", Title: "Subsidy update"}, {ID: "a", Title: "Rain alert"}}
	p := New(st, &fakeSource{items: items}, &fakeSynth{}, Config{}, nil)
	if _, err := p.Ingest(ctx); err != nil {
		t.Fatal(err)
	}
	before := snap(t, st)

	fired := false
	synth := &fakeSynth{}
	p = New(st, &fakeSource{items: items}, synth, Config{OnNew: func(context.Context, int) { fired = true }}, nil)
	res, err := p.Ingest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.NewNotices != 0 || res.CursorAfter != "b" {
		t.Fatalf("result = %+v", res)
	}
	if after := snap(t, st); !reflect.DeepEqual(before, after) {
		t.Fatalf("state changed:\nbefore %+v\nafter  %+v", before, after)
	}
	if fired || len(synth.calls) != 0 {
		t.Error("idle run triggered work")
	}
}

func TestIngest_CursorIsHardStop(t *testing.T) {
	// WHAT: Items at or after the cursor position are never ingested, even
	// unseen ones.
	st := openTestStore(t)
	ctx := context.Background()
	seed := New(st, &fakeSource{items: []source.Item{{ID: "b", Title: "B"}}}, &fakeSynth{}, Config{}, nil)
	if _, err := seed.Ingest(ctx); err != nil {
		t.Fatal(err)
	}

	p := New(st, &fakeSource{items: []source.Item{
		{ID: "d", Title: "D"},
		{ID: "c", Title: "C"},
		{ID: "b", Title: "B"},
		{ID: "z", Title: "Never seen but behind cursor"},
	}}, &fakeSynth{}, Config{}, nil)
	res, err := p.Ingest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.NewNotices != 2 || res.CursorAfter != "d" {
		t.Fatalf("result = %+v", res)
	}
	if got := texts(snap(t, st).notices); !reflect.DeepEqual(got, []string{"B", "C", "D"}) {
		t.Fatalf("stored = %v", got)
	}
}

func TestIngest_SkipsEmptyTitlesAndAddsDate(t *testing.T) {
	st := openTestStore(t)
	p := New(st, &fakeSource{items: []source.Item{
		{ID: "3", Title: "Seed distribution", PublishDate: "12-03-2024", FilePath: "https://x/3.pdf"},
		{ID: "2", Title: ""},
		{ID: "1", Title: "Rain alert"},
	}}, &fakeSynth{}, Config{}, nil)

	res, err := p.Ingest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.NewNotices != 2 || res.CursorAfter != "3" {
		t.Fatalf("result = %+v", res)
	}
	ns := snap(t, st).notices
	if ns[1].Text != "Seed distribution - Published on 12-03-2024" || ns[1].OriginalLink != "https://x/3.pdf" {
		t.Errorf("notice = %+v", ns[1])
	}
	if ns[1].ExternalID != "3" {
		t.Errorf("external id = %q", ns[1].ExternalID)
	}
	if ns[0].Text != "Rain alert - Published on " {
		t.Errorf("undated notice text = %q", ns[0].Text)
	}
}

func TestIngest_SynthesisFailureKeepsNotice(t *testing.T) {
	// WHAT: A failed synthesis stores the notice without audio and the run goes on.
	st := openTestStore(t)
	synth := &fakeSynth{fail: map[string]bool{"Rain alert": true}}
	p := New(st, &fakeSource{items: []source.Item{{ID: "b", Title: "Subsidy update"}, {ID: "a", Title: "Rain alert"}}}, synth, Config{}, nil)

	res, err := p.Ingest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.NewNotices != 2 || res.AudioFailed != 1 {
		t.Fatalf("result = %+v", res)
	}
	ns := snap(t, st).notices
	if ns[0].Audio != "" || ns[1].Audio == "" {
		t.Fatalf("audio = %q, %q", ns[0].Audio, ns[1].Audio)
	}
}

func TestIngest_FetchErrorLeavesStateUntouched(t *testing.T) {
	// WHAT: Transport and parse failures abort the run with no writes.
	// WHY: The next scheduled tick must be able to retry from the same cursor.
	for _, srcErr := range []error{
		fmt.Errorf("%w: connection refused", source.ErrTransport),
		&source.ParseError{Reason: "key \"data\" not found", Excerpt: "{}"},
	} {
		st := openTestStore(t)
		before := snap(t, st)
		p := New(st, &fakeSource{err: srcErr}, &fakeSynth{}, Config{}, nil)
		_, err := p.Ingest(context.Background())
		if !errors.Is(err, srcErr) {
			t.Fatalf("err = %v, want %v", err, srcErr)
		}
		if after := snap(t, st); !reflect.DeepEqual(before, after) {
			t.Fatal("state changed after failed fetch")
		}
	}
}

func TestSelectNew_FallbackID(t *testing.T) {
	items := []source.Item{{Title: "No id"}, {ID: "x", Title: "X"}}
	fresh, newest := SelectNew(items, "")
	if len(fresh) != 2 || newest != FallbackID("No id") || fresh[0].ID != newest {
		t.Fatalf("fresh = %+v newest = %q", fresh, newest)
	}

	// Cursor set from a fallback id stops at the same title next time.
	fresh, _ = SelectNew(items, newest)
	if len(fresh) != 0 {
		t.Fatalf("fallback cursor not honoured: %+v", fresh)
	}
	if items[0].ID != "" {
		t.Error("input slice mutated")
	}
}

func TestFallbackID_Deterministic(t *testing.T) {
	a, b := FallbackID("Rain alert"), FallbackID("Rain alert")
	if a != b || len(a) != 18 {
		t.Fatalf("ids %q %q", a, b)
	}
	if FallbackID("Rain alert ") == a {
		t.Fatal("different titles share an id")
	}
}
