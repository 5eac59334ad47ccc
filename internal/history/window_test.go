package history

import (
	"testing"
	"time"

	"breakout-scanner/internal/model"
)

func snap(spot int64, sec int) model.MarketSnapshot {
	return model.MarketSnapshot{
		Token:    "99926000",
		Exchange: "NSE",
		TS:       time.Date(2026, 3, 10, 9, 30, sec, 0, time.UTC),
		Spot:     spot,
	}
}

func TestWindow_AppendAndLen(t *testing.T) {
	w := NewWindow(5)
	if w.Len() != 0 {
		t.Fatalf("empty window Len = %d, want 0", w.Len())
	}
	for i := 0; i < 3; i++ {
		w.Append(snap(int64(100+i), i))
	}
	if w.Len() != 3 {
		t.Fatalf("Len = %d, want 3", w.Len())
	}
	if w.Cap() != 5 {
		t.Fatalf("Cap = %d, want 5", w.Cap())
	}
}

func TestWindow_EvictsOldestAtCapacity(t *testing.T) {
	w := NewWindow(4)
	// Fill to capacity, then append one more: 5 appends into cap 4.
	for i := 0; i < 5; i++ {
		w.Append(snap(int64(100+i), i))
	}
	if w.Len() != 4 {
		t.Fatalf("Len after overflow = %d, want 4", w.Len())
	}
	all := w.All()
	// Oldest (spot 100) must be gone; order must be 101,102,103,104.
	want := []int64{101, 102, 103, 104}
	for i, s := range all {
		if s.Spot != want[i] {
			t.Errorf("All()[%d].Spot = %d, want %d", i, s.Spot, want[i])
		}
	}
}

func TestWindow_WraparoundOrder(t *testing.T) {
	w := NewWindow(3)
	// 7 appends into cap 3 wraps the write position twice.
	for i := 0; i < 7; i++ {
		w.Append(snap(int64(200+i), i))
	}
	all := w.All()
	want := []int64{204, 205, 206}
	if len(all) != 3 {
		t.Fatalf("len(All) = %d, want 3", len(all))
	}
	for i, s := range all {
		if s.Spot != want[i] {
			t.Errorf("All()[%d].Spot = %d, want %d", i, s.Spot, want[i])
		}
	}
}

func TestWindow_Last(t *testing.T) {
	w := NewWindow(10)
	for i := 0; i < 6; i++ {
		w.Append(snap(int64(300+i), i))
	}

	cases := []struct {
		n    int
		want []int64
	}{
		{2, []int64{304, 305}},
		{6, []int64{300, 301, 302, 303, 304, 305}},
		{9, []int64{300, 301, 302, 303, 304, 305}}, // more than held: all
		{0, nil},
	}
	for _, c := range cases {
		got := w.Last(c.n)
		if len(got) != len(c.want) {
			t.Fatalf("Last(%d) len = %d, want %d", c.n, len(got), len(c.want))
		}
		for i := range got {
			if got[i].Spot != c.want[i] {
				t.Errorf("Last(%d)[%d].Spot = %d, want %d", c.n, i, got[i].Spot, c.want[i])
			}
		}
	}
}

func TestWindow_LatestAndPrev(t *testing.T) {
	w := NewWindow(3)
	if _, ok := w.Latest(); ok {
		t.Fatal("Latest on empty window returned ok")
	}
	w.Append(snap(400, 0))
	if _, ok := w.Prev(); ok {
		t.Fatal("Prev with one entry returned ok")
	}
	w.Append(snap(401, 1))
	latest, ok := w.Latest()
	if !ok || latest.Spot != 401 {
		t.Fatalf("Latest = %v ok=%v, want spot 401", latest.Spot, ok)
	}
	prev, ok := w.Prev()
	if !ok || prev.Spot != 400 {
		t.Fatalf("Prev = %v ok=%v, want spot 400", prev.Spot, ok)
	}
}

func TestWindow_DuplicateTimestampsKept(t *testing.T) {
	w := NewWindow(4)
	s := snap(500, 0)
	w.Append(s)
	w.Append(s) // same timestamp, not deduplicated
	if w.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (duplicates kept)", w.Len())
	}
}

func TestWindow_AllCopyIsDetached(t *testing.T) {
	w := NewWindow(2)
	w.Append(snap(600, 0))
	all := w.All()
	all[0].Spot = 999
	latest, _ := w.Latest()
	if latest.Spot != 600 {
		t.Fatalf("mutating All() copy leaked into window: spot = %d", latest.Spot)
	}
}
