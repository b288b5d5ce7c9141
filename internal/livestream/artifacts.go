package livestream

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Media types for HLS artifacts.
const (
	ManifestContentType = "application/vnd.apple.mpegurl"
	SegmentContentType  = "video/mp2t"
)

// ContentTypeFor picks the media type from the file name suffix alone.
func ContentTypeFor(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".m3u8") {
		return ManifestContentType
	}
	return SegmentContentType
}

// Artifact is an opened transcoder output file. Callers must Close it.
type Artifact struct {
	File        *os.File
	Name        string
	ContentType string
	Size        int64
	ModTime     time.Time
}

// IsManifest reports whether the artifact is a playlist.
func (a *Artifact) IsManifest() bool {
	return a.ContentType == ManifestContentType
}

func (a *Artifact) Close() error {
	return a.File.Close()
}

// ArtifactServer resolves artifact requests to files under the output root.
// It never takes session locks; files are read straight from disk.
type ArtifactServer struct {
	root string
}

// NewArtifactServer serves files below root.
func NewArtifactServer(root string) *ArtifactServer {
	return &ArtifactServer{root: root}
}

// Open resolves <root>/<key>[/<rendition>]/<name> and opens it. Any request
// whose real path leaves <root>/<key> fails with ErrForbidden, whether or not
// the target exists; a missing file fails with ErrNotFound.
func (s *ArtifactServer) Open(key StreamKey, rendition RenditionID, name string) (*Artifact, error) {
	elems := []string{string(key)}
	if rendition != "" {
		if isLogsDir(string(rendition)) {
			return nil, fmt.Errorf("%w: %s is private", ErrForbidden, logsDirName)
		}
		elems = append(elems, string(rendition))
	}
	elems = append(elems, name)
	for _, e := range elems {
		if !validElement(e) {
			return nil, fmt.Errorf("%w: invalid path element %q", ErrForbidden, e)
		}
	}

	keyRoot := filepath.Join(s.root, string(key))
	realRoot, err := filepath.EvalSymlinks(keyRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, keyRoot)
		}
		return nil, fmt.Errorf("resolve stream directory: %w", err)
	}

	full := filepath.Join(append([]string{keyRoot}, elems[1:]...)...)
	realPath, err := resolveConfined(realRoot, full)
	if err != nil {
		return nil, err
	}

	// #nosec G304 -- realPath is confined to the stream directory above
	f, err := os.Open(realPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, full)
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: not a regular file: %s", ErrForbidden, full)
	}

	return &Artifact{
		File:        f,
		Name:        name,
		ContentType: ContentTypeFor(name),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
	}, nil
}

// resolveConfined follows symlinks in full and checks the result stays under
// realRoot. For a missing file the parent directory is checked instead, so an
// escaping rendition directory is still reported as forbidden.
func resolveConfined(realRoot, full string) (string, error) {
	realPath, err := filepath.EvalSymlinks(full)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("resolve artifact: %w", err)
		}
		parent, perr := filepath.EvalSymlinks(filepath.Dir(full))
		if perr != nil {
			if errors.Is(perr, fs.ErrNotExist) {
				return "", fmt.Errorf("%w: %s", ErrNotFound, full)
			}
			return "", fmt.Errorf("resolve artifact directory: %w", perr)
		}
		if !within(realRoot, parent) {
			return "", fmt.Errorf("%w: %s", ErrForbidden, full)
		}
		// A dangling symlink also lands here; it must not point outside either.
		if target, lerr := os.Readlink(full); lerr == nil {
			if !filepath.IsAbs(target) {
				target = filepath.Join(parent, target)
			}
			if !within(realRoot, filepath.Clean(target)) {
				return "", fmt.Errorf("%w: %s", ErrForbidden, full)
			}
		}
		return "", fmt.Errorf("%w: %s", ErrNotFound, full)
	}

	if !within(realRoot, realPath) {
		return "", fmt.Errorf("%w: %s resolves to %s", ErrForbidden, full, realPath)
	}
	return realPath, nil
}

// within reports whether path is root itself or below it.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// isLogsDir reports whether name refers to the private log directory. The
// comparison ignores case for case-insensitive filesystems.
func isLogsDir(name string) bool {
	return strings.EqualFold(name, logsDirName)
}

// validElement reports whether s is usable as exactly one path element. The
// NFKC form is checked too so that compatibility characters (fullwidth dots
// or slashes) cannot smuggle in a traversal.
func validElement(s string) bool {
	if s == "" || strings.IndexByte(s, 0) >= 0 {
		return false
	}
	for _, v := range []string{s, norm.NFKC.String(s)} {
		if v == "." || v == ".." || strings.ContainsAny(v, `/\`) {
			return false
		}
	}
	return true
}
