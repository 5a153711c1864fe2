package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const feedBody = `{"data":[
 {"Id":102,"Title":"Subsidy  update &amp; <b>PM-KISAN</b>","PublishDate":"12-03-2024","FilePath":"/docs/b.pdf"},
 {"Id":"101","Title":"Rain alert","PublishDate":"10-03-2024","FilePath":""},
 {"Title":"No id here","PublishDate":"01-03-2024"}
]}`

func TestFeed_Fetch(t *testing.T) {
	// WHAT: Feed posts to the endpoint, walks "data" and maps the fields.
	// WHY: This is the production notice source contract.
	var warmed bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing user agent")
		}
		switch r.URL.Path {
		case "/en/Recent":
			warmed = true
			w.Write([]byte("<html></html>"))
		case "/en/getRecent":
			if r.Method != http.MethodPost {
				t.Errorf("method = %s, want POST", r.Method)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(feedBody))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFeed(FeedConfig{
		URL:       srv.URL + "/en/getRecent?vacancy_type=Y",
		WarmupURL: srv.URL + "/en/Recent",
	}, srv.Client(), nil)

	items, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !warmed {
		t.Error("warmup page not requested")
	}
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	if items[0].ID != "102" || items[0].Title != "Subsidy update & PM-KISAN" || items[0].FilePath != "/docs/b.pdf" {
		t.Errorf("item 0 = %+v", items[0])
	}
	if items[1].ID != "101" || items[1].PublishDate != "10-03-2024" {
		t.Errorf("item 1 = %+v", items[1])
	}
	if items[2].ID != "" {
		t.Errorf("item 2 id = %q, want empty", items[2].ID)
	}
}

func TestFeed_MissingData(t *testing.T) {
	// WHAT: A payload without the result key is a ParseError with excerpt.
	// WHY: Malformed payloads abort the run and must be diagnosable.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"maintenance"}`))
	}))
	defer srv.Close()

	_, err := NewFeed(FeedConfig{URL: srv.URL}, srv.Client(), nil).Fetch(context.Background())
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
	var pe *ParseError
	if !errors.As(err, &pe) || !strings.Contains(pe.Excerpt, "maintenance") {
		t.Fatalf("excerpt missing: %+v", pe)
	}
}

func TestFeed_NotJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>captcha</html>`))
	}))
	defer srv.Close()

	_, err := NewFeed(FeedConfig{URL: srv.URL}, srv.Client(), nil).Fetch(context.Background())
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
}

func TestFeed_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewFeed(FeedConfig{URL: srv.URL}, srv.Client(), nil).Fetch(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusBadGateway {
		t.Fatalf("status error = %+v", se)
	}
}

func TestFeed_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewFeed(FeedConfig{URL: url}, nil, nil).Fetch(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

func TestWalkPath_Nested(t *testing.T) {
	items, err := parseFeed([]byte(`{"result":{"rows":[{"id":"x","name":"A"}]}}`), "result.rows",
		FieldMap{ID: "id", Title: "name", PublishDate: "d", FilePath: "f"})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != "x" || items[0].Title != "A" {
		t.Fatalf("items = %+v", items)
	}
}

func TestCleanText(t *testing.T) {
	cases := map[string]string{
		"  plain  text ":                  "plain text",
		"<script>x</script>Rain":          "Rain",
		"Seeds &amp; fertiliser":          "Seeds & fertiliser",
		"बीज <i>वितरण</i>\n योजना":         "बीज वितरण योजना",
	}
	for in, want := range cases {
		if got := CleanText(in); got != want {
			t.Errorf("CleanText(%q) = %q, want %q", in, got, want)
		}
	}
}

const listingPage = `<html><body>
<table>
 <tr><th>Title</th><th>Date</th></tr>
 <tr><td><a href="/docs/new.pdf">Kharif MSP announced</a></td><td>05-06-2024</td></tr>
 <tr><td><a href="https://cdn.example.org/old.pdf">Soil health card camp</a></td><td> 01-06-2024 </td></tr>
 <tr><td>Plain row without link</td><td>30-05-2024</td></tr>
</table>
</body></html>`

func TestListing_Fetch(t *testing.T) {
	// WHAT: Listing maps table rows to items in document order.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listingPage))
	}))
	defer srv.Close()

	l := NewListing(ListingConfig{URL: srv.URL + "/en/Recent", TitleCol: 0, DateCol: 1}, srv.Client(), nil)
	items, err := l.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3 (header row skipped)", len(items))
	}
	if items[0].Title != "Kharif MSP announced" || items[0].ID != srv.URL+"/docs/new.pdf" {
		t.Errorf("item 0 = %+v", items[0])
	}
	if items[1].PublishDate != "01-06-2024" || items[1].FilePath != "https://cdn.example.org/old.pdf" {
		t.Errorf("item 1 = %+v", items[1])
	}
	if items[2].ID != "" || items[2].Title != "Plain row without link" {
		t.Errorf("item 2 = %+v", items[2])
	}
}

func TestListing_ZeroConfigHasNoDate(t *testing.T) {
	// WHAT: With a zero ListingConfig the title column is not read as a date.
	// WHY: Both indexes default to 0 and the title would be spoken twice.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<table><tr><td><a href="/a.pdf">Rain alert</a></td></tr></table>`))
	}))
	defer srv.Close()

	items, err := NewListing(ListingConfig{URL: srv.URL}, srv.Client(), nil).Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Title != "Rain alert" || items[0].PublishDate != "" {
		t.Fatalf("items = %+v", items)
	}
}

func TestListing_NoTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>Under maintenance</p></body></html>`))
	}))
	defer srv.Close()

	_, err := NewListing(ListingConfig{URL: srv.URL}, srv.Client(), nil).Fetch(context.Background())
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
}
