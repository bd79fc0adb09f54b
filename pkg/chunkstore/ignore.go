package chunkstore

import (
	"path/filepath"
	"strings"
)

var ignoredSuffixes = []string{
	".chunks", ".meta", ".partial", ".tmp", ".complete", ".part", ".crdownload",
}

// IsIgnoredName reports whether a base file name should never be treated
// as shareable content, per spec §4.3's file-ignore policy. Both the
// watcher and Ingest itself consult this.
func IsIgnoredName(base string) bool {
	if strings.HasPrefix(base, ".") {
		return true
	}
	if base == "chunks" || base == "metadata" {
		return true
	}
	for _, suffix := range ignoredSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	return false
}

// IsIgnoredPath applies IsIgnoredName to a path's base component.
func IsIgnoredPath(path string) bool {
	return IsIgnoredName(filepath.Base(path))
}
