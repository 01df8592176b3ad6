package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newWikiServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("list") == "search":
			fmt.Fprint(w, `{"query":{"search":[
				{"title":"Paul Allen","snippet":"<span class=\"searchmatch\">Paul</span> Allen was a co-founder","pageid":1},
				{"title":"Paul Allen (art collector)","snippet":"collection","pageid":2}
			]}}`)
		case q.Get("prop") == "extracts":
			if q.Get("titles") == "Nope" {
				fmt.Fprint(w, `{"query":{"pages":{"-1":{"title":"Nope","missing":true}}}}`)
				return
			}
			fmt.Fprint(w, `{"query":{"pages":{"1":{"title":"Paul Allen","extract":"Paul Gardner Allen co-founded Microsoft."}}}}`)
		default:
			http.Error(w, "unexpected request", http.StatusBadRequest)
		}
	}))
}

func TestWikipediaClientSearch(t *testing.T) {
	srv := newWikiServer(t)
	defer srv.Close()

	client := NewWikipediaClient(srv.URL)
	hits, err := client.Search(context.Background(), "paul allen", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 || hits[0].Title != "Paul Allen" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestWikipediaClientLoadPage(t *testing.T) {
	srv := newWikiServer(t)
	defer srv.Close()

	client := NewWikipediaClient(srv.URL)
	content, err := client.LoadPage(context.Background(), "Paul Allen")
	if err != nil {
		t.Fatalf("LoadPage: %v", err)
	}
	if content != "Paul Gardner Allen co-founded Microsoft." {
		t.Errorf("content = %q", content)
	}

	if _, err := client.LoadPage(context.Background(), "Nope"); err == nil {
		t.Error("missing page did not error")
	}
}

func TestWikipediaSearchToolStripsMarkup(t *testing.T) {
	srv := newWikiServer(t)
	defer srv.Close()

	tool := NewWikipediaSearchTool(NewWikipediaClient(srv.URL))
	out, err := tool.InvokableRun(context.Background(), `{"query":"paul allen"}`)
	if err != nil {
		t.Fatalf("InvokableRun: %v", err)
	}

	var decoded WikipediaSearchOutput
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Total != 2 {
		t.Fatalf("total = %d, want 2", decoded.Total)
	}
	if decoded.Results[0].Snippet != "Paul Allen was a co-founder" {
		t.Errorf("snippet = %q, markup not stripped", decoded.Results[0].Snippet)
	}
}

func TestWikipediaToolsRejectEmptyInput(t *testing.T) {
	client := NewWikipediaClient("http://unused.invalid")
	if _, err := NewWikipediaSearchTool(client).InvokableRun(context.Background(), `{"query":""}`); err == nil {
		t.Error("empty query accepted")
	}
	if _, err := NewWikipediaLoadTool(client).InvokableRun(context.Background(), `{"title":" "}`); err == nil {
		t.Error("empty title accepted")
	}
}

func TestStripHTMLTags(t *testing.T) {
	got := stripHTMLTags(`a <b>bold</b> and <span class="x">tagged</span> text`)
	if got != "a bold and tagged text" {
		t.Errorf("got %q", got)
	}
}
