package trip

import (
	"testing"

	"gourmet-log/internal/geomath"
	"gourmet-log/internal/store"
)

func TestParseRadiusKm(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"6", 6},
		{" 2.5 ", 2.5},
		{"0", 0},
		{"-3", 0},
		{"abc", 0},
		{"", 0},
		{"NaN", 0},
		{"Inf", 0},
	}
	for _, c := range cases {
		if got := ParseRadiusKm(c.in); got != c.want {
			t.Errorf("ParseRadiusKm(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

// 开封鼓楼附近的五家店：两家在 6km 内，三家在外
func sampleSpots() []store.FoodSpot {
	return []store.FoodSpot{
		{ID: 3, Name: "灌汤包", Lat: 34.7975, Lng: 114.3080},
		{ID: 7, Name: "桶子鸡", Lat: 34.8100, Lng: 114.3200},
		{ID: 9, Name: "郑州烩面", Lat: 34.7466, Lng: 113.6253},
		{ID: 12, Name: "洛阳水席", Lat: 34.6197, Lng: 112.4540},
		{ID: 15, Name: "胡辣汤", Lat: 34.7700, Lng: 113.7000},
	}
}

func TestFilterByOriginUnresolved(t *testing.T) {
	spots := sampleSpots()
	got := FilterByOrigin(spots, nil, 6)
	if len(got) != len(spots) {
		t.Fatalf("unresolved origin must keep all spots, got %d", len(got))
	}
	for i := range spots {
		if got[i].ID != spots[i].ID {
			t.Fatalf("order changed at %d: %v", i, got[i].ID)
		}
	}
}

func TestFilterByOriginRadius(t *testing.T) {
	org := &geomath.Point{Lat: 34.7972, Lng: 114.3074}
	got := FilterByOrigin(sampleSpots(), org, 6)
	if len(got) != 2 {
		t.Fatalf("got %d spots, want 2: %+v", len(got), got)
	}
	// 距离升序：灌汤包更近
	if got[0].ID != 3 || got[1].ID != 7 {
		t.Fatalf("wrong order: %v, %v", got[0].ID, got[1].ID)
	}
}

func TestFilterByOriginUnlimited(t *testing.T) {
	org := &geomath.Point{Lat: 34.7972, Lng: 114.3074}
	got := FilterByOrigin(sampleSpots(), org, 0)
	if len(got) != 5 {
		t.Fatalf("radius 0 means unlimited, got %d", len(got))
	}
	if got[0].ID != 3 || got[4].ID != 12 {
		t.Fatalf("want distance ascending, got %v", ids(got))
	}
}

func TestSelectByIDs(t *testing.T) {
	got := SelectByIDs(sampleSpots(), []int64{7, 3})
	// 按全量列表顺序，而不是传入顺序
	if len(got) != 2 || got[0].ID != 3 || got[1].ID != 7 {
		t.Fatalf("got %v", ids(got))
	}
	if SelectByIDs(sampleSpots(), nil) != nil {
		t.Fatal("empty selection must return nil")
	}
	if got := SelectByIDs(sampleSpots(), []int64{999}); len(got) != 0 {
		t.Fatalf("unknown id selected: %v", ids(got))
	}
}

func TestActiveSpots(t *testing.T) {
	spots := sampleSpots()
	selected := spots[:2]
	filtered := spots[2:]
	if got := ActiveSpots(selected, filtered); got[0].ID != 3 {
		t.Fatalf("selection must win, got %v", ids(got))
	}
	if got := ActiveSpots(nil, filtered); got[0].ID != 9 {
		t.Fatalf("fallback to filtered, got %v", ids(got))
	}
}

func TestApplyOrder(t *testing.T) {
	active := []store.FoodSpot{{ID: 3}, {ID: 7}}
	// 提到但不在集合内的 9 被丢弃
	got := ApplyOrder(active, []int64{7, 3, 9})
	if len(got) != 2 || got[0].ID != 7 || got[1].ID != 3 {
		t.Fatalf("got %v", ids(got))
	}
}

func TestApplyOrderAppendsUnmentioned(t *testing.T) {
	active := []store.FoodSpot{{ID: 3}, {ID: 7}, {ID: 12}}
	got := ApplyOrder(active, []int64{7})
	// 未提到的 3、12 按原相对顺序追加
	want := []int64{7, 3, 12}
	if len(got) != 3 {
		t.Fatalf("got %v", ids(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("got %v, want %v", ids(got), want)
		}
	}
}

func TestApplyOrderEmpty(t *testing.T) {
	active := []store.FoodSpot{{ID: 3}, {ID: 7}}
	got := ApplyOrder(active, nil)
	if len(got) != 2 || got[0].ID != 3 {
		t.Fatalf("got %v", ids(got))
	}
}

func ids(spots []store.FoodSpot) []int64 {
	out := make([]int64, 0, len(spots))
	for _, sp := range spots {
		out = append(out, sp.ID)
	}
	return out
}
