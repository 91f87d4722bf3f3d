// Package resolve maps channel IDs to upstream stream URLs, either through an
// Xtream URL template or by looking the channel up in a provider playlist.
package resolve

import (
	"bufio"
	"bytes"
	"path"
	"strings"
)

// Track is one entry parsed from an M3U playlist.
type Track struct {
	ID   string // tvg-id attribute, or the URL basename when absent
	Name string // display name after the EXTINF comma
	URL  string
}

// ParseM3U parses an extended M3U playlist. Lines that do not form a valid
// EXTINF/URL pair are skipped; a playlist with no parseable tracks yields an
// empty slice, not an error.
func ParseM3U(data []byte) []Track {
	var tracks []Track
	var pending *Track

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "" || line == "#EXTM3U":
			continue
		case strings.HasPrefix(line, "#EXTINF:"):
			t := parseExtinf(line)
			pending = &t
		case strings.HasPrefix(line, "#"):
			continue
		default:
			if pending == nil {
				continue
			}
			pending.URL = line
			if pending.ID == "" {
				pending.ID = basenameID(line)
			}
			tracks = append(tracks, *pending)
			pending = nil
		}
	}
	return tracks
}

// parseExtinf extracts the tvg-id attribute and display name from an EXTINF
// line such as:
//
//	#EXTINF:-1 tvg-id="bbc1.uk" group-title="News",BBC One
func parseExtinf(line string) Track {
	var t Track
	body := strings.TrimPrefix(line, "#EXTINF:")
	if idx := strings.LastIndex(body, ","); idx >= 0 {
		t.Name = strings.TrimSpace(body[idx+1:])
		body = body[:idx]
	}
	t.ID = extinfAttr(body, "tvg-id")
	return t
}

func extinfAttr(body, key string) string {
	marker := key + `="`
	idx := strings.Index(body, marker)
	if idx < 0 {
		return ""
	}
	rest := body[idx+len(marker):]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return ""
	}
	return rest[:end]
}

// basenameID derives a channel ID from a stream URL: the last path segment
// with its extension stripped.
func basenameID(rawURL string) string {
	trimmed := rawURL
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	base := path.Base(trimmed)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "." || base == "/" {
		return ""
	}
	return base
}
