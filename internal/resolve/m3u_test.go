package resolve

import "testing"

const samplePlaylist = `#EXTM3U
#EXTINF:-1 tvg-id="bbc1.uk" tvg-name="BBC One" group-title="News",BBC One
http://cdn.example.test/live/bbc1/index.m3u8
#EXTINF:-1 tvg-id="cnn.us" group-title="News",CNN International
http://cdn.example.test/live/cnn/index.m3u8

#EXTGRP:Sports
#EXTINF:-1,Big Sports HD
http://cdn.example.test/live/sports42.ts?token=abc
`

func TestParseM3U(t *testing.T) {
	tracks := ParseM3U([]byte(samplePlaylist))
	if len(tracks) != 3 {
		t.Fatalf("parsed %d tracks, want 3", len(tracks))
	}

	want := []Track{
		{ID: "bbc1.uk", Name: "BBC One", URL: "http://cdn.example.test/live/bbc1/index.m3u8"},
		{ID: "cnn.us", Name: "CNN International", URL: "http://cdn.example.test/live/cnn/index.m3u8"},
		{ID: "sports42", Name: "Big Sports HD", URL: "http://cdn.example.test/live/sports42.ts?token=abc"},
	}
	for i, w := range want {
		if tracks[i] != w {
			t.Errorf("track %d = %+v, want %+v", i, tracks[i], w)
		}
	}
}

func TestParseM3UIgnoresDanglingLines(t *testing.T) {
	// URL with no preceding EXTINF, and EXTINF with no URL.
	data := "#EXTM3U\nhttp://example.test/orphan.m3u8\n#EXTINF:-1,Trailing Entry\n"
	if tracks := ParseM3U([]byte(data)); len(tracks) != 0 {
		t.Fatalf("parsed %d tracks from malformed playlist, want 0", len(tracks))
	}
}

func TestParseM3UEmpty(t *testing.T) {
	if tracks := ParseM3U(nil); len(tracks) != 0 {
		t.Fatalf("parsed %d tracks from empty input", len(tracks))
	}
}

func TestParseExtinfNameWithCommaInAttrs(t *testing.T) {
	line := `#EXTINF:-1 tvg-id="x" group-title="News, Weather",Channel X`
	tr := parseExtinf(line)
	if tr.Name != "Channel X" {
		t.Errorf("name = %q, want Channel X", tr.Name)
	}
	if tr.ID != "x" {
		t.Errorf("id = %q, want x", tr.ID)
	}
}

func TestBasenameID(t *testing.T) {
	cases := map[string]string{
		"http://h/live/abc.m3u8":     "abc",
		"http://h/live/abc.ts?tok=1": "abc",
		"http://h/live/abc":          "abc",
		"http://h/":                  "h",
		"http://h/live/a.b.c.m3u8":   "a.b.c",
		"http://h/live/42.m3u8#frag": "42",
	}
	for in, want := range cases {
		if got := basenameID(in); got != want {
			t.Errorf("basenameID(%q) = %q, want %q", in, got, want)
		}
	}
}
