package amap

import (
	"context"
	"encoding/json"
	"math"
	"testing"
)

func TestCenterOfRectangle(t *testing.T) {
	lat, lng, ok := CenterOfRectangle("114.2,34.7;114.4,34.9")
	if !ok {
		t.Fatal("want ok")
	}
	if math.Abs(lat-34.8) > 1e-9 || math.Abs(lng-114.3) > 1e-9 {
		t.Fatalf("center = %v,%v", lat, lng)
	}
	for _, bad := range []string{"", "114.2,34.7", "a,b;c,d", "114.2;34.7"} {
		if _, _, ok := CenterOfRectangle(bad); ok {
			t.Errorf("CenterOfRectangle(%q) = ok, want fail", bad)
		}
	}
}

func TestSplitLocation(t *testing.T) {
	lng, lat, ok := splitLocation("114.3074,34.7972")
	if !ok || lng != 114.3074 || lat != 34.7972 {
		t.Fatalf("got %v,%v ok=%v", lng, lat, ok)
	}
	for _, bad := range []string{"", ",", "114.3", "x,34.7", "114.3,"} {
		if _, _, ok := splitLocation(bad); ok {
			t.Errorf("splitLocation(%q) = ok, want fail", bad)
		}
	}
}

func TestMergeCandidates(t *testing.T) {
	primary := []Candidate{{FormattedAddress: "开封市书店街", Adcode: "410204"}}
	fallback := []Candidate{
		{FormattedAddress: "开封市书店街", Adcode: "410204"}, // 与主来源重复
		{FormattedAddress: "书店街小吃城", Adcode: "410204"},
	}
	merged := mergeCandidates(primary, fallback)
	if len(merged) != 2 {
		t.Fatalf("merged = %+v", merged)
	}
	if merged[0].FormattedAddress != "开封市书店街" || merged[1].FormattedAddress != "书店街小吃城" {
		t.Fatalf("order changed: %+v", merged)
	}
}

func TestJoinNameAddress(t *testing.T) {
	cases := []struct{ name, addr, want string }{
		{"第一楼", "书店街1号", "第一楼 书店街1号"},
		{"第一楼", "", "第一楼"},
		{"", "书店街1号", "书店街1号"},
		{"", "", "未知地址"},
	}
	for _, c := range cases {
		if got := joinNameAddress(c.name, c.addr); got != c.want {
			t.Errorf("joinNameAddress(%q,%q) = %q, want %q", c.name, c.addr, got, c.want)
		}
	}
}

func TestRawStringToleratesArray(t *testing.T) {
	// 高德在字段无值时返回 []
	if got := rawString(json.RawMessage(`[]`)); got != "" {
		t.Fatalf("got %q", got)
	}
	if got := rawString(json.RawMessage(`"开封市"`)); got != "开封市" {
		t.Fatalf("got %q", got)
	}
	if got := rawString(nil); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestGeocodeMissingKey(t *testing.T) {
	c := NewClient("", nil, nil)
	if _, err := c.Geocode(context.Background(), "开封书店街", ""); err != ErrMissingKey {
		t.Fatalf("err = %v", err)
	}
}
