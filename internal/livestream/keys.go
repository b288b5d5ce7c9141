package livestream

import "strings"

// KeyRegistry is the immutable stream key allow-list.
type KeyRegistry struct {
	keys map[StreamKey]struct{}
}

// NewKeyRegistry builds a registry from a comma-separated list. Entries are
// trimmed and deduplicated; empty entries and entries that are not usable as
// a single directory name are dropped.
func NewKeyRegistry(csv string) *KeyRegistry {
	keys := make(map[StreamKey]struct{})
	for _, part := range strings.Split(csv, ",") {
		k := strings.TrimSpace(part)
		if !validElement(k) || isLogsDir(k) {
			continue
		}
		keys[StreamKey(k)] = struct{}{}
	}
	return &KeyRegistry{keys: keys}
}

// IsAuthorized reports whether key is on the allow-list.
func (r *KeyRegistry) IsAuthorized(key StreamKey) bool {
	if key == "" {
		return false
	}
	_, ok := r.keys[key]
	return ok
}

// Len returns the number of distinct allowed keys.
func (r *KeyRegistry) Len() int {
	return len(r.keys)
}
