package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
)

func TestBraceExpand(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"logfile", []string{"logfile"}},
		{"logfile{04,05}", []string{"logfile04", "logfile05"}},
		{"meta/{0.10,0.11}/logfile", []string{"meta/0.10/logfile", "meta/0.11/logfile"}},
		{"{a,b}{1,2}", []string{"a1", "a2", "b1", "b2"}},
		{"{a,{b,c}}x", []string{"ax", "bx", "cx"}},
		{"broken{a,b", []string{"broken{a,b"}},
	}
	for _, c := range cases {
		got := braceExpand(c.in)
		sort.Strings(got)
		sort.Strings(c.want)
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("braceExpand(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestFilename(t *testing.T) {
	got, err := Filename("http://rl.heh.fi/meta/crawl-0.12/logfile")
	if err != nil {
		t.Fatalf("Filename failed: %v", err)
	}
	if got != "meta-crawl-0.12-logfile" {
		t.Errorf("Filename = %q", got)
	}
}

func TestLoad(t *testing.T) {
	manifest := `sources:
  - name: cao
    base: http://crawl.akrasiac.org
    logs:
      - logfile{04,05}
      - allgames.txt
      - milestones04
      - meta/sprint/logfile
  - name: rhf
    base: http://rl.heh.fi/
    logs:
      - logfile
`
	path := filepath.Join(t.TempDir(), "sources.yml")
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	srcs, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	// rhf is a dead server, all its URLs are filtered, so only cao
	// survives.
	if len(srcs) != 1 || srcs[0].Name != "cao" {
		t.Fatalf("sources = %+v", srcs)
	}
	want := []string{
		"http://crawl.akrasiac.org/logfile04",
		"http://crawl.akrasiac.org/logfile05",
		"http://crawl.akrasiac.org/allgames.txt",
	}
	sort.Strings(want)
	got := append([]string(nil), srcs[0].URLs...)
	sort.Strings(got)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("urls = %v, want %v", got, want)
	}
}

func TestFetch_DownloadAndResume(t *testing.T) {
	content := []byte("line one\nline two\n")
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rng := r.Header.Get("Range"); rng == "bytes=9-" {
			w.WriteHeader(http.StatusPartialContent)
			w.Write(content[9:])
			return
		}
		w.Write(content)
	}))
	defer ts.Close()

	dir := t.TempDir()
	d := NewDownloader()
	url := ts.URL + "/crawl/logfile"

	if err := d.fetch(context.Background(), url, dir); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	path := filepath.Join(dir, "crawl-logfile")
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("downloaded %q", got)
	}

	// Truncate locally to simulate a partial download, then resume.
	if err := os.WriteFile(path, content[:9], 0o644); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if err := d.fetch(context.Background(), url, dir); err != nil {
		t.Fatalf("resume fetch failed: %v", err)
	}
	got, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("after resume %q", got)
	}
}

func TestFetch_PoisonsDeadURLs(t *testing.T) {
	var hits int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.NotFound(w, r)
	}))
	defer ts.Close()

	dir := t.TempDir()
	d := NewDownloader()
	url := ts.URL + "/gone/logfile"

	if err := d.fetch(context.Background(), url, dir); err == nil {
		t.Fatal("404 fetch reported success")
	}
	info, err := os.Stat(filepath.Join(dir, "gone-logfile"))
	if err != nil {
		t.Fatalf("poison file missing: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("poison file size = %d, want 0", info.Size())
	}

	// The marker short-circuits future fetches.
	if err := d.fetch(context.Background(), url, dir); err != nil {
		t.Fatalf("poisoned fetch errored: %v", err)
	}
	if hits != 1 {
		t.Errorf("server hit %d times, want 1", hits)
	}
}
