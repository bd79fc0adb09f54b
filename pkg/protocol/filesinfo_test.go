package protocol

import "testing"

func TestParseFilesInfoSkipsMalformedIndices(t *testing.T) {
	got := ParseFilesInfo("file,,1,abc,-2,5")
	indices := got.SortedIndices("file")
	if len(indices) != 2 || indices[0] != 1 || indices[1] != 5 {
		t.Fatalf("expected {1,5}, got %v", indices)
	}
}

func TestParseFilesInfoMultipleEntries(t *testing.T) {
	got := ParseFilesInfo("f.bin,0,1,2;;g.txt,0")
	if idx := got.SortedIndices("f.bin"); len(idx) != 3 {
		t.Fatalf("expected 3 indices for f.bin, got %v", idx)
	}
	if idx := got.SortedIndices("g.txt"); len(idx) != 1 || idx[0] != 0 {
		t.Fatalf("expected [0] for g.txt, got %v", idx)
	}
}

func TestParseFilesInfoEmptyClearsFileSet(t *testing.T) {
	got := ParseFilesInfo("")
	if len(got) != 0 {
		t.Fatalf("expected empty file set, got %v", got)
	}
}

func TestParseFilesInfoSkipsEmptyEntriesAndNames(t *testing.T) {
	got := ParseFilesInfo(";;,1,2;;valid,3")
	if len(got) != 1 {
		t.Fatalf("expected only 'valid' to survive, got %v", got)
	}
	if idx := got.SortedIndices("valid"); len(idx) != 1 || idx[0] != 3 {
		t.Fatalf("expected [3], got %v", idx)
	}
}

func TestEncodeFilesInfoRoundTrip(t *testing.T) {
	files := ParseFilesInfo("f.bin,0,1,2;;g.txt,0")
	encoded := EncodeFilesInfo(files)
	roundTripped := ParseFilesInfo(encoded)

	for _, name := range []string{"f.bin", "g.txt"} {
		want := files.SortedIndices(name)
		got := roundTripped.SortedIndices(name)
		if len(want) != len(got) {
			t.Fatalf("file %s: want %v got %v", name, want, got)
		}
		for i := range want {
			if want[i] != got[i] {
				t.Fatalf("file %s: want %v got %v", name, want, got)
			}
		}
	}
}
