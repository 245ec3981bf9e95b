package render

import (
	"fmt"
	"strings"

	"github.com/vidforge/vidforge/internal/models"
)

// Ducking parameters: background audio is compressed keyed off the main
// signal, producing music-under-voice without manual mixing. Values are
// fixed across all renders.
const duckingFilter = "sidechaincompress=threshold=0.4:ratio=8:attack=20:release=200:makeup=0.5:level_sc=0.6"

// Subtitle burn-in style applied when an SRT track is present.
const subtitleStyle = "FontSize=24,FontName=Arial"

// Node is one step of the filter graph: labeled input streams, a chain
// of filters, labeled outputs.
type Node struct {
	Inputs  []string
	Filters []string
	Outputs []string
}

// Graph is a typed intermediate representation of an ffmpeg
// filter_complex expression. Building the structure first and rendering
// the text last keeps graph shape testable independent of formatting.
type Graph struct {
	nodes    []Node
	videoOut string
	audioOut string
}

func (g *Graph) add(n Node) {
	g.nodes = append(g.nodes, n)
}

// Nodes returns the graph's nodes in order.
func (g *Graph) Nodes() []Node {
	return g.nodes
}

// VideoOutput is the label of the final video stream, for -map.
func (g *Graph) VideoOutput() string {
	return g.videoOut
}

// AudioOutput is the label of the final mixed audio stream, for -map.
func (g *Graph) AudioOutput() string {
	return g.audioOut
}

// String renders the graph to ffmpeg filter_complex syntax.
func (g *Graph) String() string {
	parts := make([]string, 0, len(g.nodes))
	for _, n := range g.nodes {
		var b strings.Builder
		for _, in := range n.Inputs {
			fmt.Fprintf(&b, "[%s]", in)
		}
		b.WriteString(strings.Join(n.Filters, ","))
		for _, out := range n.Outputs {
			fmt.Fprintf(&b, "[%s]", out)
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, ";")
}

// BuildEpisodeGraph assembles the per-episode filter graph from the
// ordered scene list. For every scene: the video stream gets the scene's
// pan/zoom transform verbatim (when present) followed by a timestamp
// reset; the audio stream is split into a main and a sidechain branch,
// with the sidechain compressed keyed off the main signal (ducking). All
// ducked branches are mixed (duration = longest) and all video streams
// are concatenated in scene order. When subtitlePath is non-empty the
// concatenated video gets an SRT burn-in stage; otherwise it passes
// through unchanged.
//
// Input stream indexes follow the scene order: scene i is ffmpeg input i.
func BuildEpisodeGraph(scenes []models.Scene, subtitlePath string) *Graph {
	g := &Graph{}

	videoLabels := make([]string, 0, len(scenes))
	duckedLabels := make([]string, 0, len(scenes))

	for i, scene := range scenes {
		videoLabel := fmt.Sprintf("v%d", i)

		var chain []string
		if scene.PanZoom != nil && *scene.PanZoom != "" {
			chain = append(chain, *scene.PanZoom)
		}
		chain = append(chain, "setpts=PTS-STARTPTS")

		g.add(Node{
			Inputs:  []string{fmt.Sprintf("%d:v", i)},
			Filters: chain,
			Outputs: []string{videoLabel},
		})
		videoLabels = append(videoLabels, videoLabel)

		mainLabel := fmt.Sprintf("a%dmain", i)
		sideLabel := fmt.Sprintf("a%dside", i)
		duckedLabel := fmt.Sprintf("a%dducked", i)

		g.add(Node{
			Inputs:  []string{fmt.Sprintf("%d:a", i)},
			Filters: []string{"asplit=2"},
			Outputs: []string{mainLabel, sideLabel},
		})

		// sidechaincompress reads the stream to compress first, then the
		// key signal.
		g.add(Node{
			Inputs:  []string{sideLabel, mainLabel},
			Filters: []string{duckingFilter},
			Outputs: []string{duckedLabel},
		})
		duckedLabels = append(duckedLabels, duckedLabel)
	}

	g.add(Node{
		Inputs:  duckedLabels,
		Filters: []string{fmt.Sprintf("amix=inputs=%d:duration=longest", len(scenes))},
		Outputs: []string{"aout"},
	})
	g.audioOut = "aout"

	g.add(Node{
		Inputs:  videoLabels,
		Filters: []string{fmt.Sprintf("concat=n=%d:v=1:a=0", len(scenes))},
		Outputs: []string{"vout"},
	})
	g.videoOut = "vout"

	if subtitlePath != "" {
		g.add(Node{
			Inputs:  []string{"vout"},
			Filters: []string{fmt.Sprintf("subtitles=f='%s':force_style='%s'", escapeFilterPath(subtitlePath), subtitleStyle)},
			Outputs: []string{"vsub"},
		})
		g.videoOut = "vsub"
	}

	return g
}

// escapeFilterPath escapes characters that ffmpeg filter syntax treats
// specially in file paths.
func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "\\\\")
	path = strings.ReplaceAll(path, ":", "\\:")
	path = strings.ReplaceAll(path, "'", "'\\''")
	return path
}
