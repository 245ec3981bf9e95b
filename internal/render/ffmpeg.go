package render

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Output encode profile for vertical short-form video.
const (
	outputResolution = "1080x1920"
	videoCodec       = "libx264"
	audioCodec       = "aac"
	audioBitrate     = "192k"
	videoCRF         = "20"
	encodePreset     = "medium"
	keyframeInterval = "48"
)

// TranscodeRequest describes one encode run.
type TranscodeRequest struct {
	// Inputs in scene order; input i feeds graph streams [i:v] and [i:a].
	Inputs     []string
	Graph      *Graph
	OutputPath string

	// ExpectedDurationS scales the encoder's out_time into a percentage.
	// Zero disables progress reporting.
	ExpectedDurationS float64
	OnProgress        func(percent int)
}

// ProbeResult carries the output metadata recorded on the render row.
type ProbeResult struct {
	DurationS  float64
	BitrateBPS int
	SizeBytes  int64
}

// Transcoder runs ffmpeg and ffprobe as subprocesses.
type Transcoder struct {
	ffmpegPath  string
	ffprobePath string
}

func NewTranscoder(ffmpegPath, ffprobePath string) *Transcoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Transcoder{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Transcode runs the filter graph over the inputs and encodes the result
// as H.264/AAC vertical video. Encoder progress lines are read from
// stdout and forwarded to req.OnProgress as a 0-100 percentage.
func (t *Transcoder) Transcode(ctx context.Context, req TranscodeRequest) error {
	args := buildTranscodeArgs(req)

	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start failed: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	lastPercent := -1
	for scanner.Scan() {
		percent, ok := parseProgressLine(scanner.Text(), req.ExpectedDurationS)
		if !ok || percent == lastPercent {
			continue
		}
		lastPercent = percent
		if req.OnProgress != nil {
			req.OnProgress(percent)
		}
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg encode failed: %w", err)
	}
	return nil
}

// buildTranscodeArgs is split out so argument construction is testable
// without running ffmpeg.
func buildTranscodeArgs(req TranscodeRequest) []string {
	args := make([]string, 0, 2*len(req.Inputs)+30)
	for _, input := range req.Inputs {
		args = append(args, "-i", input)
	}

	args = append(args,
		"-filter_complex", req.Graph.String(),
		"-map", "["+req.Graph.VideoOutput()+"]",
		"-map", "["+req.Graph.AudioOutput()+"]",
		"-c:v", videoCodec,
		"-c:a", audioCodec,
		"-b:a", audioBitrate,
		"-s", outputResolution,
		"-crf", videoCRF,
		"-preset", encodePreset,
		"-keyint_min", keyframeInterval,
		"-g", keyframeInterval,
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		"-nostats",
		"-y",
		req.OutputPath,
	)
	return args
}

// parseProgressLine reads one key=value line of ffmpeg -progress output.
// Only out_time_us lines produce a percentage; everything else is
// skipped.
func parseProgressLine(line string, expectedDurationS float64) (int, bool) {
	if expectedDurationS <= 0 {
		return 0, false
	}
	value, found := strings.CutPrefix(strings.TrimSpace(line), "out_time_us=")
	if !found {
		return 0, false
	}
	us, err := strconv.ParseInt(value, 10, 64)
	if err != nil || us < 0 {
		return 0, false
	}

	percent := int(float64(us) / 1e6 / expectedDurationS * 100)
	if percent > 100 {
		percent = 100
	}
	return percent, true
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		BitRate   string `json:"bit_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
		Size     string `json:"size"`
	} `json:"format"`
}

// Probe reads duration, bitrate, and file size of an encoded file. The
// video stream's bitrate is preferred; when the muxer omits it, the
// container-level bitrate is used instead.
func (t *Transcoder) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	}

	cmd := exec.CommandContext(ctx, t.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probed probeOutput
	if err := json.Unmarshal(output, &probed); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	result := &ProbeResult{}
	if probed.Format.Duration != "" {
		if result.DurationS, err = strconv.ParseFloat(probed.Format.Duration, 64); err != nil {
			return nil, fmt.Errorf("failed to parse probed duration %q: %w", probed.Format.Duration, err)
		}
	}

	for _, stream := range probed.Streams {
		if stream.CodecType == "video" && stream.BitRate != "" {
			result.BitrateBPS, _ = strconv.Atoi(stream.BitRate)
			break
		}
	}
	if result.BitrateBPS == 0 && probed.Format.BitRate != "" {
		result.BitrateBPS, _ = strconv.Atoi(probed.Format.BitRate)
	}

	if probed.Format.Size != "" {
		result.SizeBytes, _ = strconv.ParseInt(probed.Format.Size, 10, 64)
	} else if info, statErr := os.Stat(path); statErr == nil {
		result.SizeBytes = info.Size()
	}

	return result, nil
}
