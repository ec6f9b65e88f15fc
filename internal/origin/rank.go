package origin

import (
	"sort"
	"strings"

	"gourmet-log/internal/amap"
)

// RankCandidates：按城市提示对候选本地重排
// 背景：供应商对裸地名/街道名不保证按地域相关性排序，需要按提示加权；
// 权重：城市命中 +3，区县命中 +2，格式化地址命中 +1；同分保持供应商顺序
func RankCandidates(cands []amap.Candidate, cityHint string) []amap.Candidate {
	if cityHint == "" || len(cands) < 2 {
		return cands
	}
	out := append([]amap.Candidate(nil), cands...)
	sort.SliceStable(out, func(i, j int) bool {
		return candidateScore(out[i], cityHint) > candidateScore(out[j], cityHint)
	})
	return out
}

func candidateScore(c amap.Candidate, cityHint string) int {
	score := 0
	if c.City != "" && strings.Contains(c.City, cityHint) {
		score += 3
	}
	if c.District != "" && strings.Contains(c.District, cityHint) {
		score += 2
	}
	if strings.Contains(c.FormattedAddress, cityHint) {
		score++
	}
	return score
}
