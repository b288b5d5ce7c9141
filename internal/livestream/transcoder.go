package livestream

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

// Defaults for the live pipeline.
const (
	DefaultFFmpegPath     = "/usr/bin/ffmpeg"
	DefaultIngestURL      = "rtmp://127.0.0.1:1935/live"
	DefaultSegmentSeconds = 3
	DefaultListSize       = 3
)

// Rendition is one rung of the adaptive bitrate ladder.
type Rendition struct {
	Name         RenditionID
	Size         string // WxH, e.g. "1280x720"
	VideoBitrate string // e.g. "2500k"
	AudioBitrate string // e.g. "96k"
}

// TranscodeOptions describes how the transcoder is invoked for a key.
type TranscodeOptions struct {
	FFmpegPath     string
	IngestURL      string
	SegmentSeconds int
	ListSize       int
	// Renditions, when empty, selects a single 480p output written directly
	// under the key's directory.
	Renditions []Rendition
}

func (o TranscodeOptions) withDefaults() TranscodeOptions {
	if o.FFmpegPath == "" {
		o.FFmpegPath = DefaultFFmpegPath
	}
	if o.IngestURL == "" {
		o.IngestURL = DefaultIngestURL
	}
	if o.SegmentSeconds <= 0 {
		o.SegmentSeconds = DefaultSegmentSeconds
	}
	if o.ListSize <= 0 {
		o.ListSize = DefaultListSize
	}
	return o
}

// InputURL returns the local ingest endpoint for key.
func (o TranscodeOptions) InputURL(key StreamKey) string {
	return strings.TrimRight(o.IngestURL, "/") + "/" + url.PathEscape(string(key))
}

// Invocation builds the transcoder command line for key writing into outDir.
func (o TranscodeOptions) Invocation(key StreamKey, outDir string) Invocation {
	o = o.withDefaults()

	args := []string{"-i", o.InputURL(key)}
	if len(o.Renditions) == 0 {
		args = append(args,
			"-c:v", "libx264", "-preset", "ultrafast", "-s", "854x480",
			"-c:a", "aac", "-b:a", "128k",
		)
		args = append(args, o.hlsArgs()...)
		args = append(args,
			"-hls_segment_filename", filepath.Join(outDir, SegmentPattern),
			filepath.Join(outDir, PlaylistName),
		)
	} else {
		args = append(args, o.ladderArgs(outDir)...)
	}

	return Invocation{
		Path:    o.FFmpegPath,
		Args:    args,
		LogPath: filepath.Join(outDir, logsDirName, string(key)+".log"),
	}
}

func (o TranscodeOptions) hlsArgs() []string {
	return []string{
		"-f", "hls",
		"-hls_list_size", strconv.Itoa(o.ListSize),
		"-hls_time", strconv.Itoa(o.SegmentSeconds),
	}
}

func (o TranscodeOptions) ladderArgs(outDir string) []string {
	var args []string
	for range o.Renditions {
		args = append(args, "-map", "0:v:0", "-map", "0:a:0")
	}
	args = append(args, "-c:v", "libx264", "-preset", "ultrafast", "-c:a", "aac")

	streamMap := make([]string, 0, len(o.Renditions))
	for i, r := range o.Renditions {
		n := strconv.Itoa(i)
		args = append(args,
			"-b:v:"+n, r.VideoBitrate,
			"-maxrate:v:"+n, r.VideoBitrate,
			"-bufsize:v:"+n, doubleRate(r.VideoBitrate),
			"-s:v:"+n, r.Size,
			"-b:a:"+n, r.AudioBitrate,
		)
		streamMap = append(streamMap, fmt.Sprintf("v:%d,a:%d,name:%s", i, i, r.Name))
	}

	args = append(args, o.hlsArgs()...)
	args = append(args,
		"-master_pl_name", MasterPlaylistName,
		"-hls_segment_filename", filepath.Join(outDir, "%v", SegmentPattern),
		"-var_stream_map", strings.Join(streamMap, " "),
		filepath.Join(outDir, "%v", PlaylistName),
	)
	return args
}

// ParseLadder parses "name:WxH:vbitrate:abitrate" entries separated by commas,
// e.g. "1080:1920x1080:5000k:128k,720:1280x720:2500k:96k". An empty string
// yields no renditions.
func ParseLadder(s string) ([]Rendition, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var out []Rendition
	seen := make(map[RenditionID]bool)
	for _, entry := range strings.Split(s, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("ladder entry %q: want name:WxH:vbitrate:abitrate", entry)
		}
		r := Rendition{
			Name:         RenditionID(parts[0]),
			Size:         parts[1],
			VideoBitrate: parts[2],
			AudioBitrate: parts[3],
		}
		if !validElement(string(r.Name)) || isLogsDir(string(r.Name)) {
			return nil, fmt.Errorf("ladder entry %q: invalid rendition name", entry)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("ladder entry %q: duplicate rendition name", entry)
		}
		if w, h, ok := strings.Cut(r.Size, "x"); !ok || !isPositiveInt(w) || !isPositiveInt(h) {
			return nil, fmt.Errorf("ladder entry %q: invalid size %q", entry, r.Size)
		}
		if _, _, err := splitRate(r.VideoBitrate); err != nil {
			return nil, fmt.Errorf("ladder entry %q: video bitrate: %w", entry, err)
		}
		if _, _, err := splitRate(r.AudioBitrate); err != nil {
			return nil, fmt.Errorf("ladder entry %q: audio bitrate: %w", entry, err)
		}
		seen[r.Name] = true
		out = append(out, r)
	}
	return out, nil
}

// splitRate splits an ffmpeg rate such as "2500k" into 2500 and "k".
func splitRate(rate string) (int, string, error) {
	num, unit := rate, ""
	if n := len(rate); n > 0 {
		switch rate[n-1] {
		case 'k', 'K', 'm', 'M':
			num, unit = rate[:n-1], rate[n-1:]
		}
	}
	v, err := strconv.Atoi(num)
	if err != nil || v <= 0 {
		return 0, "", fmt.Errorf("invalid rate %q", rate)
	}
	return v, unit, nil
}

func doubleRate(rate string) string {
	v, unit, err := splitRate(rate)
	if err != nil {
		return rate
	}
	return strconv.Itoa(v*2) + unit
}

func isPositiveInt(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n > 0
}
