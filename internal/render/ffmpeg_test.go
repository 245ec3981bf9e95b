package render

import (
	"strings"
	"testing"

	"github.com/vidforge/vidforge/internal/models"
)

func TestBuildTranscodeArgs(t *testing.T) {
	scenes := []models.Scene{{Idx: 0}, {Idx: 1}}
	graph := BuildEpisodeGraph(scenes, "")

	args := buildTranscodeArgs(TranscodeRequest{
		Inputs:     []string{"/tmp/r/scene-0.mp4", "/tmp/r/scene-1.mp4"},
		Graph:      graph,
		OutputPath: "/tmp/r/output.mp4",
	})

	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-i /tmp/r/scene-0.mp4",
		"-i /tmp/r/scene-1.mp4",
		"-map [vout]",
		"-map [aout]",
		"-c:v libx264",
		"-c:a aac",
		"-b:a 192k",
		"-s 1080x1920",
		"-crf 20",
		"-preset medium",
		"-keyint_min 48",
		"-g 48",
		"-pix_fmt yuv420p",
		"-movflags +faststart",
		"-progress pipe:1",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in args %q", want, joined)
		}
	}

	if args[len(args)-1] != "/tmp/r/output.mp4" {
		t.Errorf("output path must be last, got %q", args[len(args)-1])
	}
}

func TestParseProgressLine(t *testing.T) {
	const durationS = 60.0

	cases := []struct {
		line        string
		wantPercent int
		wantOK      bool
	}{
		{"out_time_us=30000000", 50, true},
		{"out_time_us=60000000", 100, true},
		{"out_time_us=90000000", 100, true}, // clamp past expected duration
		{"out_time_us=0", 0, true},
		{"frame=120", 0, false},
		{"progress=continue", 0, false},
		{"out_time_us=garbage", 0, false},
	}

	for _, tc := range cases {
		percent, ok := parseProgressLine(tc.line, durationS)
		if ok != tc.wantOK || percent != tc.wantPercent {
			t.Errorf("parseProgressLine(%q) = (%d, %v), want (%d, %v)", tc.line, percent, ok, tc.wantPercent, tc.wantOK)
		}
	}

	// Without an expected duration no percentage can be derived.
	if _, ok := parseProgressLine("out_time_us=30000000", 0); ok {
		t.Error("expected no progress with zero duration")
	}
}
