package playback

import (
	"strings"
	"testing"
)

const masterPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360,CODECS="avc1.4d401e,mp4a.40.2"
360p/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720
720p/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080
1080p/index.m3u8
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(masterPlaylist), "https://stream.example.com/hls/abc/index.m3u8")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(m.Renditions) != 3 {
		t.Fatalf("got %d renditions, want 3", len(m.Renditions))
	}
	// Sorted ascending by bandwidth, URIs resolved against the base.
	want := []Rendition{
		{URI: "https://stream.example.com/hls/abc/360p/index.m3u8", Bandwidth: 800000, Resolution: "640x360"},
		{URI: "https://stream.example.com/hls/abc/720p/index.m3u8", Bandwidth: 2500000, Resolution: "1280x720"},
		{URI: "https://stream.example.com/hls/abc/1080p/index.m3u8", Bandwidth: 5000000, Resolution: "1920x1080"},
	}
	for i, w := range want {
		if m.Renditions[i] != w {
			t.Errorf("rendition[%d] = %+v, want %+v", i, m.Renditions[i], w)
		}
	}
}

func TestParseManifestRejectsNonPlaylist(t *testing.T) {
	if _, err := ParseManifest(strings.NewReader("<html></html>"), "x"); err == nil {
		t.Error("parsed a non-m3u8 document")
	}
	if _, err := ParseManifest(strings.NewReader(""), "x"); err == nil {
		t.Error("parsed an empty document")
	}
}

func TestManifestSelect(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(masterPlaylist), "https://stream.example.com/hls/abc/index.m3u8")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	tests := []struct {
		quality   Quality
		bandwidth int // 0 means nil rendition
	}{
		{QualityAuto, 0},
		{QualityLow, 800000},
		{QualityMedium, 2500000},
		{QualityHigh, 5000000},
	}
	for _, tt := range tests {
		r := m.Select(tt.quality)
		if tt.bandwidth == 0 {
			if r != nil {
				t.Errorf("Select(%s) = %+v, want nil", tt.quality, r)
			}
			continue
		}
		if r == nil || r.Bandwidth != tt.bandwidth {
			t.Errorf("Select(%s) = %+v, want bandwidth %d", tt.quality, r, tt.bandwidth)
		}
	}

	empty := &Manifest{}
	if r := empty.Select(QualityHigh); r != nil {
		t.Errorf("empty manifest Select = %+v, want nil", r)
	}
}
