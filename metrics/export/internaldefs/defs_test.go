package internaldefs

import (
	"strings"
	"testing"
)

func TestDefinitionNamesUniqueAndPrefixed(t *testing.T) {
	seen := make(map[string]bool)
	ids := make(map[uint16]bool)
	for _, def := range CounterDefs {
		if !strings.HasPrefix(def.Name, "gosession_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("bad counter name %q", def.Name)
		}
		if seen[def.Name] || ids[uint16(def.ID)] {
			t.Fatalf("duplicate counter %q", def.Name)
		}
		seen[def.Name] = true
		ids[uint16(def.ID)] = true
	}
	for _, def := range HistogramDefs {
		if ids[uint16(def.ID)] {
			t.Fatalf("histogram %q shares an id with a counter", def.Name)
		}
		if !strings.HasSuffix(def.Name, "_seconds") {
			t.Fatalf("bad histogram name %q", def.Name)
		}
	}
}

func TestBucketHelpers(t *testing.T) {
	if len(HistogramBounds) != 8 || len(HistogramBoundSuffix) != 8 {
		t.Fatal("bounds must describe eight buckets")
	}
	norm := NormalizeBuckets([]uint64{1, 2, 3})
	if norm != [8]uint64{1, 2, 3} {
		t.Fatalf("unexpected normalized buckets %v", norm)
	}
	cum := CumulativeBuckets([8]uint64{1, 2, 3, 0, 0, 0, 0, 4})
	if cum != [8]uint64{1, 3, 6, 6, 6, 6, 6, 10} {
		t.Fatalf("unexpected cumulative buckets %v", cum)
	}
}
