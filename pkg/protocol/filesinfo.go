package protocol

import (
	"sort"
	"strconv"
	"strings"
)

// FileChunkSets maps a file name to the set of chunk indices advertised for
// it. It is the parsed form of the UDP UPDATE command's files-info payload.
type FileChunkSets map[string]map[uint32]struct{}

// ParseFilesInfo parses the files-info grammar from spec §4.1:
//
//	entry (";;" entry)*
//	entry := filename ("," index)*
//
// Empty entries, empty filenames, non-numeric or negative indices are
// silently skipped; no malformed entry aborts the update.
func ParseFilesInfo(raw string) FileChunkSets {
	result := make(FileChunkSets)
	if strings.TrimSpace(raw) == "" {
		return result
	}

	for _, entry := range strings.Split(raw, ";;") {
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ",")
		fileName := parts[0]
		if fileName == "" {
			continue
		}
		set, ok := result[fileName]
		if !ok {
			set = make(map[uint32]struct{})
			result[fileName] = set
		}
		for _, tok := range parts[1:] {
			if tok == "" {
				continue
			}
			idx, err := strconv.Atoi(tok)
			if err != nil || idx < 0 {
				continue
			}
			set[uint32(idx)] = struct{}{}
		}
	}
	return result
}

// SortedIndices returns the chunk indices for fileName in ascending order.
func (f FileChunkSets) SortedIndices(fileName string) []uint32 {
	set := f[fileName]
	if len(set) == 0 {
		return nil
	}
	out := make([]uint32, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SortedFileNames returns the file names present, in a stable, sorted
// order — used to make encoded output deterministic.
func (f FileChunkSets) SortedFileNames() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EncodeFilesInfo builds the files-info payload the tracker client sends in
// UPDATE requests: "<file>,idx,idx,..." entries joined with ";;", in
// ascending file-name and chunk-index order for determinism.
func EncodeFilesInfo(files FileChunkSets) string {
	names := files.SortedFileNames()
	entries := make([]string, 0, len(names))
	for _, name := range names {
		indices := files.SortedIndices(name)
		b := strings.Builder{}
		b.WriteString(name)
		for _, idx := range indices {
			b.WriteByte(',')
			b.WriteString(strconv.FormatUint(uint64(idx), 10))
		}
		entries = append(entries, b.String())
	}
	return strings.Join(entries, ";;")
}
