// 包 trip：从出发点推导有效餐厅集合，并把 AI 给出的到访顺序并回集合
// 背景：显式选择优先于推导结果；AI 顺序只对它提到的餐厅有权威，未提到的只后移不丢弃
package trip

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"gourmet-log/internal/geomath"
	"gourmet-log/internal/store"
)

// ParseRadiusKm：解析半径输入；非法或 ≤0 返回 0，表示不限制
func ParseRadiusKm(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	return v
}

// FilterByOrigin：按出发点与半径筛选
// 未定位时原样返回全部（距离筛选必须有参考点）；已定位时保留半径内并按距离升序；
// 距离每次重算不缓存，因为出发点与半径随时可能变化
func FilterByOrigin(spots []store.FoodSpot, org *geomath.Point, radiusKm float64) []store.FoodSpot {
	if org == nil {
		return append([]store.FoodSpot(nil), spots...)
	}
	type entry struct {
		spot store.FoodSpot
		dist float64
	}
	entries := make([]entry, 0, len(spots))
	for _, sp := range spots {
		d := geomath.DistanceKm(*org, geomath.Point{Lat: sp.Lat, Lng: sp.Lng})
		if radiusKm > 0 && d > radiusKm {
			continue
		}
		entries = append(entries, entry{spot: sp, dist: d})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].dist < entries[j].dist })
	out := make([]store.FoodSpot, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.spot)
	}
	return out
}

// SelectByIDs：按全量列表顺序取出选中的餐厅
func SelectByIDs(spots []store.FoodSpot, ids []int64) []store.FoodSpot {
	if len(ids) == 0 {
		return nil
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []store.FoodSpot
	for _, sp := range spots {
		if want[sp.ID] {
			out = append(out, sp)
		}
	}
	return out
}

// ActiveSpots：手动选择非空时优先，否则用筛选结果——显式选择永远压过推导
func ActiveSpots(selected, filtered []store.FoodSpot) []store.FoodSpot {
	if len(selected) > 0 {
		return selected
	}
	return filtered
}

// ApplyOrder：把 AI 顺序套到有效集合上
// order 提到且在集合内的按 order 排；order 提到但不在集合内的丢弃；
// 集合内未被提到的按原相对顺序追加在尾部，保证不静默丢餐厅
func ApplyOrder(active []store.FoodSpot, order []int64) []store.FoodSpot {
	if len(order) == 0 {
		return active
	}
	byID := make(map[int64]store.FoodSpot, len(active))
	for _, sp := range active {
		byID[sp.ID] = sp
	}
	mentioned := make(map[int64]bool, len(order))
	out := make([]store.FoodSpot, 0, len(active))
	for _, id := range order {
		mentioned[id] = true
		if sp, ok := byID[id]; ok {
			out = append(out, sp)
		}
	}
	for _, sp := range active {
		if !mentioned[sp.ID] {
			out = append(out, sp)
		}
	}
	return out
}
