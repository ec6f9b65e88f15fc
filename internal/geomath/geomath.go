// 包 geomath：纯地理计算工具，提供球面距离与坐标文本解析；不做任何 I/O
package geomath

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Point：经纬度坐标，lat 在 [-90,90]，lng 在 [-180,180]；产生后不再修改，只整体替换
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// earthRadiusKm：球面距离计算采用的地球半径
const earthRadiusKm = 6371.0

// DistanceKm：haversine 大圆距离（公里）
// 背景：用于“附近筛选”与定位漂移校验；对称且同点为零，不校验输入范围（上游负责）
func DistanceKm(a, b Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	s := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return earthRadiusKm * c
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// blockedPrefixes：UI 回显文案前缀，出现时不作为坐标解析，避免“当前定位 39.9,116.4”被误判
var blockedPrefixes = []string{"当前定位", "已定位"}

var coordPattern = regexp.MustCompile(`(-?\d{1,3}\.\d+)\s*,\s*(-?\d{1,3}\.\d+)`)

// ParseCoordinatePair：从文本中解析“数字,数字”坐标对
// 歧义处理：仅第一个数字符合纬度范围时按 (lat,lng)；仅第二个符合时交换；两者皆可时默认 (lat,lng)
// 返回 nil 表示不含坐标或数值非法
func ParseCoordinatePair(text string) *Point {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	for _, p := range blockedPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return nil
		}
	}
	m := coordPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return nil
	}
	a, err1 := strconv.ParseFloat(m[1], 64)
	b, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil || math.IsNaN(a) || math.IsNaN(b) || math.IsInf(a, 0) || math.IsInf(b, 0) {
		return nil
	}
	looksLatLng := math.Abs(a) <= 90 && math.Abs(b) <= 180
	looksLngLat := math.Abs(a) <= 180 && math.Abs(b) <= 90
	switch {
	case looksLatLng && !looksLngLat:
		return &Point{Lat: a, Lng: b}
	case looksLngLat && !looksLatLng:
		return &Point{Lat: b, Lng: a}
	case looksLatLng:
		return &Point{Lat: a, Lng: b}
	}
	return nil
}
