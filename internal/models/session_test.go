package models

import (
	"testing"
	"time"
)

func TestDecodeSettings(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		check   func(t *testing.T, s Settings)
	}{
		{
			name: "empty uses defaults",
			raw:  "",
			check: func(t *testing.T, s Settings) {
				if !s.AllowChat || s.Resolution != "1280x720" || s.Framerate != 30 {
					t.Errorf("defaults wrong: %+v", s)
				}
			},
		},
		{
			name: "partial overrides keep the rest",
			raw:  `{"allow_chat": false, "max_bitrate": 1000}`,
			check: func(t *testing.T, s Settings) {
				if s.AllowChat {
					t.Error("allow_chat not overridden")
				}
				if s.MaxBitrate != 1000 {
					t.Errorf("max_bitrate = %d", s.MaxBitrate)
				}
				if s.Resolution != "1280x720" {
					t.Errorf("resolution default lost: %q", s.Resolution)
				}
			},
		},
		{
			name:    "unknown key rejected",
			raw:     `{"allow_chat": true, "allw_chat": false}`,
			wantErr: true,
		},
		{
			name:    "malformed json rejected",
			raw:     `{"allow_chat":`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := DecodeSettings([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatal("want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			tt.check(t, s)
		})
	}
}

func TestSessionDuration(t *testing.T) {
	start := time.Now().Add(-10 * time.Minute)
	end := start.Add(45 * time.Minute)

	tests := []struct {
		name    string
		session LiveSession
		want    time.Duration
		approx  bool
	}{
		{name: "not started", session: LiveSession{Status: StatusScheduled}, want: 0},
		{
			name:    "ended",
			session: LiveSession{Status: StatusEnded, ActualStart: &start, ActualEnd: &end},
			want:    45 * time.Minute,
		},
		{
			name:    "live counts from actual start",
			session: LiveSession{Status: StatusLive, ActualStart: &start},
			want:    10 * time.Minute,
			approx:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.session.Duration()
			if tt.approx {
				if got < tt.want || got > tt.want+time.Minute {
					t.Errorf("duration = %v, want about %v", got, tt.want)
				}
				return
			}
			if got != tt.want {
				t.Errorf("duration = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	for status, terminal := range map[SessionStatus]bool{
		StatusScheduled: false,
		StatusLive:      false,
		StatusEnded:     true,
		StatusCancelled: true,
	} {
		if status.Terminal() != terminal {
			t.Errorf("%s.Terminal() = %v, want %v", status, !terminal, terminal)
		}
	}
}
