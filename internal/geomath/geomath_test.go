package geomath

import (
	"math"
	"testing"
)

func TestDistanceKmZeroAndSymmetry(t *testing.T) {
	p := Point{Lat: 34.7972, Lng: 114.3074}
	if d := DistanceKm(p, p); d != 0 {
		t.Fatalf("same point distance = %v, want 0", d)
	}
	a := Point{Lat: 39.9042, Lng: 116.4074}
	b := Point{Lat: 31.2304, Lng: 121.4737}
	if d1, d2 := DistanceKm(a, b), DistanceKm(b, a); math.Abs(d1-d2) > 1e-9 {
		t.Fatalf("distance not symmetric: %v vs %v", d1, d2)
	}
}

func TestDistanceKmBeijingShanghai(t *testing.T) {
	// 北京天安门 到 上海人民广场 大圆距离约 1067km
	d := DistanceKm(Point{Lat: 39.9042, Lng: 116.4074}, Point{Lat: 31.2304, Lng: 121.4737})
	if d < 1050 || d > 1080 {
		t.Fatalf("Beijing-Shanghai distance = %v, want ~1067", d)
	}
}

func TestParseCoordinatePair(t *testing.T) {
	cases := []struct {
		in   string
		want *Point
	}{
		{"34.79,114.30", &Point{Lat: 34.79, Lng: 114.30}},
		{"  39.9042 , 116.4074  ", &Point{Lat: 39.9042, Lng: 116.4074}},
		{"坐标 34.79,114.30 附近", &Point{Lat: 34.79, Lng: 114.30}},
		// 第一个数超出纬度范围时按 (lng,lat) 交换
		{"114.30,34.79", &Point{Lat: 34.79, Lng: 114.30}},
		// 两个都超出纬度范围
		{"114.30,121.47", nil},
		{"开封书店街", nil},
		{"", nil},
		{"当前定位 39.9,116.4", nil},
		{"已定位 34.79,114.30", nil},
	}
	for _, c := range cases {
		got := ParseCoordinatePair(c.in)
		if c.want == nil {
			if got != nil {
				t.Errorf("ParseCoordinatePair(%q) = %+v, want nil", c.in, got)
			}
			continue
		}
		if got == nil {
			t.Errorf("ParseCoordinatePair(%q) = nil, want %+v", c.in, c.want)
			continue
		}
		if got.Lat != c.want.Lat || got.Lng != c.want.Lng {
			t.Errorf("ParseCoordinatePair(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestParseCoordinatePairBothPlausible(t *testing.T) {
	// 两个数都在纬度范围内时默认按 (lat,lng) 读
	got := ParseCoordinatePair("34.79,54.30")
	if got == nil || got.Lat != 34.79 || got.Lng != 54.30 {
		t.Fatalf("got %+v, want {34.79 54.30}", got)
	}
}
