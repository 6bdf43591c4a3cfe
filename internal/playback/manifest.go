package playback

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Rendition is one variant stream from an adaptive-bitrate master manifest.
type Rendition struct {
	URI        string
	Bandwidth  int
	Resolution string
}

// Manifest is a parsed master playlist.
type Manifest struct {
	URL        string
	Renditions []Rendition // sorted ascending by bandwidth
}

// FetchManifest downloads and parses the master playlist at url.
func FetchManifest(ctx context.Context, client *http.Client, manifestURL string) (*Manifest, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch manifest: status %d", resp.StatusCode)
	}
	m, err := ParseManifest(resp.Body, manifestURL)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ParseManifest reads an m3u8 master playlist. Variant URIs are resolved
// against base.
func ParseManifest(r io.Reader, base string) (*Manifest, error) {
	baseURL, _ := url.Parse(base)
	scanner := bufio.NewScanner(r)

	m := &Manifest{URL: base}
	var pending *Rendition
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first {
			if line != "#EXTM3U" {
				return nil, fmt.Errorf("not an m3u8 playlist")
			}
			first = false
			continue
		}
		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			r := Rendition{}
			for _, attr := range splitAttributes(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:")) {
				k, v, ok := strings.Cut(attr, "=")
				if !ok {
					continue
				}
				switch k {
				case "BANDWIDTH":
					r.Bandwidth, _ = strconv.Atoi(v)
				case "RESOLUTION":
					r.Resolution = v
				}
			}
			pending = &r
		case line == "" || strings.HasPrefix(line, "#"):
			// ignore
		default:
			if pending != nil {
				pending.URI = resolveURI(baseURL, line)
				m.Renditions = append(m.Renditions, *pending)
				pending = nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if first {
		return nil, fmt.Errorf("empty playlist")
	}
	sort.Slice(m.Renditions, func(i, j int) bool { return m.Renditions[i].Bandwidth < m.Renditions[j].Bandwidth })
	return m, nil
}

// splitAttributes splits an attribute list on commas outside quotes.
func splitAttributes(s string) []string {
	var out []string
	var b strings.Builder
	quoted := false
	for _, c := range s {
		switch {
		case c == '"':
			quoted = !quoted
		case c == ',' && !quoted:
			out = append(out, b.String())
			b.Reset()
			continue
		}
		b.WriteRune(c)
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

func resolveURI(base *url.URL, uri string) string {
	if base == nil {
		return uri
	}
	ref, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return base.ResolveReference(ref).String()
}

// Select returns the rendition for a fixed quality level: low is the lowest
// bandwidth, high the highest, medium the middle. Nil for QualityAuto (the
// adaptive algorithm chooses) or when the manifest has no variants.
func (m *Manifest) Select(q Quality) *Rendition {
	if q == QualityAuto || len(m.Renditions) == 0 {
		return nil
	}
	var idx int
	switch q {
	case QualityLow:
		idx = 0
	case QualityMedium:
		idx = len(m.Renditions) / 2
	case QualityHigh:
		idx = len(m.Renditions) - 1
	default:
		return nil
	}
	r := m.Renditions[idx]
	return &r
}
