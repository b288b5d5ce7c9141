package livestream

import (
	"errors"
	"time"
)

// StreamKey identifies one live broadcast. It doubles as the publisher's
// credential and as the name of the stream's output directory.
type StreamKey string

// RenditionID names one variant of the adaptive output (e.g. "720").
type RenditionID string

// Output layout under <outputRoot>/<key>.
const (
	PlaylistName       = "playlist.m3u8"
	MasterPlaylistName = "master.m3u8"
	SegmentPattern     = "segment_%03d.ts"
	logsDirName        = "logs"
)

// SessionInfo is a point-in-time view of a Session, safe to hand out.
type SessionInfo struct {
	Key       StreamKey `json:"key"`
	ID        string    `json:"id"`
	PID       int       `json:"pid"`
	OutputDir string    `json:"outputDir"`
	StartedAt time.Time `json:"startedAt"`
	Exited    bool      `json:"exited"`
}

var (
	// ErrUnauthorized is returned when a stream key is not on the allow-list.
	ErrUnauthorized = errors.New("stream key not authorized")

	// ErrIO is returned when the output tree or log file cannot be prepared.
	ErrIO = errors.New("prepare transcoder output")

	// ErrSpawn is returned when the transcoder process could not be started.
	ErrSpawn = errors.New("spawn transcoder")

	// ErrForbidden is returned when an artifact request resolves outside the
	// stream's output directory.
	ErrForbidden = errors.New("artifact path escapes stream directory")

	// ErrNotFound is returned when a requested artifact does not exist (yet).
	ErrNotFound = errors.New("artifact not found")
)
