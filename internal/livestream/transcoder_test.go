package livestream

import (
	"path/filepath"
	"strings"
	"testing"
)

func argValue(args []string, flag string) (string, bool) {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1], true
		}
	}
	return "", false
}

func TestTranscodeOptions_Invocation_single(t *testing.T) {
	out := filepath.Join("/var/www/hls", "abc")
	inv := TranscodeOptions{}.Invocation("abc", out)

	if inv.Path != DefaultFFmpegPath {
		t.Errorf("Path: got %q", inv.Path)
	}
	if v, _ := argValue(inv.Args, "-i"); v != "rtmp://127.0.0.1:1935/live/abc" {
		t.Errorf("input: got %q", v)
	}
	if v, _ := argValue(inv.Args, "-hls_list_size"); v != "3" {
		t.Errorf("hls_list_size: got %q", v)
	}
	if v, _ := argValue(inv.Args, "-hls_time"); v != "3" {
		t.Errorf("hls_time: got %q", v)
	}
	if v, _ := argValue(inv.Args, "-hls_segment_filename"); v != filepath.Join(out, "segment_%03d.ts") {
		t.Errorf("segment pattern: got %q", v)
	}
	if last := inv.Args[len(inv.Args)-1]; last != filepath.Join(out, "playlist.m3u8") {
		t.Errorf("playlist output: got %q", last)
	}
	if inv.LogPath != filepath.Join(out, "logs", "abc.log") {
		t.Errorf("LogPath: got %q", inv.LogPath)
	}
	if _, ok := argValue(inv.Args, "-var_stream_map"); ok {
		t.Error("single rendition must not use var_stream_map")
	}
}

func TestTranscodeOptions_Invocation_configured(t *testing.T) {
	opts := TranscodeOptions{
		FFmpegPath:     "/opt/ffmpeg",
		IngestURL:      "rtmp://ingest:1935/app/",
		SegmentSeconds: 6,
		ListSize:       10,
	}
	inv := opts.Invocation("a b", "/out/a b")

	if inv.Path != "/opt/ffmpeg" {
		t.Errorf("Path: got %q", inv.Path)
	}
	if v, _ := argValue(inv.Args, "-i"); v != "rtmp://ingest:1935/app/a%20b" {
		t.Errorf("input: got %q", v)
	}
	if v, _ := argValue(inv.Args, "-hls_time"); v != "6" {
		t.Errorf("hls_time: got %q", v)
	}
	if v, _ := argValue(inv.Args, "-hls_list_size"); v != "10" {
		t.Errorf("hls_list_size: got %q", v)
	}
}

func TestTranscodeOptions_Invocation_ladder(t *testing.T) {
	ladder, err := ParseLadder("1080:1920x1080:5000k:128k, 720:1280x720:2500k:96k")
	if err != nil {
		t.Fatalf("ParseLadder: %v", err)
	}
	out := "/var/www/hls/abc"
	inv := TranscodeOptions{Renditions: ladder}.Invocation("abc", out)

	if v, _ := argValue(inv.Args, "-var_stream_map"); v != "v:0,a:0,name:1080 v:1,a:1,name:720" {
		t.Errorf("var_stream_map: got %q", v)
	}
	if v, _ := argValue(inv.Args, "-master_pl_name"); v != "master.m3u8" {
		t.Errorf("master_pl_name: got %q", v)
	}
	if v, _ := argValue(inv.Args, "-bufsize:v:1"); v != "5000k" {
		t.Errorf("bufsize for 720: got %q", v)
	}
	if v, _ := argValue(inv.Args, "-s:v:0"); v != "1920x1080" {
		t.Errorf("size for 1080: got %q", v)
	}
	if v, _ := argValue(inv.Args, "-hls_segment_filename"); v != filepath.Join(out, "%v", "segment_%03d.ts") {
		t.Errorf("segment pattern: got %q", v)
	}
	if n := strings.Count(strings.Join(inv.Args, " "), "-map 0:v:0"); n != 2 {
		t.Errorf("expected one video map per rendition, got %d", n)
	}
}

func TestParseLadder_errors(t *testing.T) {
	for _, in := range []string{
		"1080:1920x1080:5000k",
		"..:1920x1080:5000k:128k",
		"logs:1920x1080:5000k:128k",
		"Logs:1920x1080:5000k:128k",
		"1080:1920:5000k:128k",
		"1080:1920x1080:fast:128k",
		"1080:1920x1080:5000k:0k",
		"720:1280x720:2500k:96k,720:1280x720:2500k:96k",
	} {
		if _, err := ParseLadder(in); err == nil {
			t.Errorf("ParseLadder(%q): expected error", in)
		}
	}
}

func TestParseLadder_empty(t *testing.T) {
	ladder, err := ParseLadder("  ")
	if err != nil || ladder != nil {
		t.Errorf("expected no renditions, got %v, %v", ladder, err)
	}
}
