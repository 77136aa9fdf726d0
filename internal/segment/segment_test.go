package segment

import (
	"errors"
	"strings"
	"testing"
)

func TestSplit_Empty(t *testing.T) {
	chunks, err := Split("", DefaultChunkSize, DefaultOverlap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks for empty text, got %d", len(chunks))
	}
}

func TestSplit_ShorterThanChunkSize(t *testing.T) {
	chunks, err := Split("short text", 500, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected exactly one chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "short text" {
		t.Errorf("expected chunk to equal whole text, got %q", chunks[0].Text)
	}
	if chunks[0].Index != 0 {
		t.Errorf("expected index 0, got %d", chunks[0].Index)
	}
}

func TestSplit_InvalidParameters(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		overlap   int
	}{
		{"zero_chunk_size", 0, 0},
		{"negative_chunk_size", -1, 0},
		{"overlap_equals_chunk_size", 10, 10},
		{"overlap_exceeds_chunk_size", 10, 11},
		{"negative_overlap", 10, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Split("some text", tt.chunkSize, tt.overlap)
			if !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("expected ErrInvalidParameter, got %v", err)
			}
		})
	}
}

func TestSplit_OverlapPositions(t *testing.T) {
	text := "The quick brown fox. The quick brown fox."
	chunks, err := Split(text, 20, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 41 characters with step 15: starts at 0, 15, 30.
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	want := []string{
		"The quick brown fox.",
		" fox. The quick brow",
		" brown fox.",
	}
	for i, w := range want {
		if chunks[i].Text != w {
			t.Errorf("chunk %d: got %q, want %q", i, chunks[i].Text, w)
		}
		if chunks[i].Index != i {
			t.Errorf("chunk %d: got index %d", i, chunks[i].Index)
		}
	}
}

func TestSplit_ZeroOverlapIsContiguous(t *testing.T) {
	text := strings.Repeat("abcde", 4)
	chunks, err := Split(text, 5, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	var rebuilt strings.Builder
	for _, c := range chunks {
		rebuilt.WriteString(c.Text)
	}
	if rebuilt.String() != text {
		t.Errorf("contiguous chunks should reconstruct text, got %q", rebuilt.String())
	}
}

// Concatenating each chunk's first chunkSize-overlap characters plus the final
// chunk's remainder must reconstruct the original text exactly.
func TestSplit_LosslessCoverage(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		chunkSize int
		overlap   int
	}{
		{"tiny", "hello world", 4, 1},
		{"exact_multiple", strings.Repeat("x", 100), 20, 5},
		{"ragged_tail", strings.Repeat("abc ", 37), 25, 10},
		{"unicode", strings.Repeat("héllo wörld ", 11), 17, 4},
		{"defaults", strings.Repeat("lorem ipsum dolor sit amet ", 60), DefaultChunkSize, DefaultOverlap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := Split(tt.text, tt.chunkSize, tt.overlap)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			step := tt.chunkSize - tt.overlap
			var rebuilt strings.Builder
			for i, c := range chunks {
				runes := []rune(c.Text)
				if i == len(chunks)-1 {
					rebuilt.WriteString(c.Text)
				} else if len(runes) >= step {
					rebuilt.WriteString(string(runes[:step]))
				} else {
					rebuilt.WriteString(c.Text)
				}
			}
			if rebuilt.String() != tt.text {
				t.Errorf("reconstruction mismatch:\ngot  %q\nwant %q", rebuilt.String(), tt.text)
			}
		})
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("determinism matters ", 30)
	a, err := Split(text, 50, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Split(text, 50, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("chunk %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}
