// 包 hint：从自由文本“规划需求”中提取地点短语与城市提示
// 背景：用户直接在需求里写“到开封书店街了”，无需单独填位置；规则表顺序即优先级，先命中先生效
package hint

import (
	"regexp"
	"strings"
)

// rule：一条可独立测试的提取规则；name 仅用于日志与测试定位
type rule struct {
	name string
	re   *regexp.Regexp
}

// hintRules：地点短语规则表，按列表顺序匹配（不是按文本位置）
var hintRules = []rule{
	{"arrived", regexp.MustCompile(`到([^，。!.]+?)了`)},
	{"nearby", regexp.MustCompile(`在([^，。!.]+?)附近`)},
	{"outing", regexp.MustCompile(`去([^，。!.]+?)玩`)},
	{"business", regexp.MustCompile(`到([^，。!.]+?)出差`)},
	{"travel", regexp.MustCompile(`到([^，。!.]+?)旅游`)},
}

// ExtractHint：返回第一条命中规则的捕获组（去除首尾空白），无命中返回空串
func ExtractHint(intent string) string {
	merged := strings.TrimSpace(intent)
	if merged == "" {
		return ""
	}
	for _, r := range hintRules {
		if m := r.re.FindStringSubmatch(merged); m != nil && m[1] != "" {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

var (
	citySuffixPattern = regexp.MustCompile(`([\x{4e00}-\x{9fa5}]{2,8}市)`)
	// “开封书店街 / 郑州高新区雪松路”这类：取开头 2~3 字，仅在 6 字内出现道路/区县后缀时启用
	// 前缀取短优先且与后缀间至少隔一字，否则“开封书店街”会把“开封书”当城市、“书店街”整体误判
	cityPrefixPattern = regexp.MustCompile(`^([\x{4e00}-\x{9fa5}]{2,3}?).{1,6}(街|路|区|县|镇|乡|大道|高新区|新区)`)
)

// ExtractCityHint：提取城市提示用于地理编码偏置，绝不单独作为定位结果
// 两级启发：先找“...市”整词，再退回到带道路后缀的开头前缀
func ExtractCityHint(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	// 去掉省级前缀，避免“河南省开封市”整体被当成市名
	if i := strings.Index(trimmed, "省"); i != -1 {
		trimmed = trimmed[i+len("省"):]
	}
	if m := citySuffixPattern.FindStringSubmatch(trimmed); m != nil {
		return m[1]
	}
	if m := cityPrefixPattern.FindStringSubmatch(trimmed); m != nil {
		return m[1]
	}
	return ""
}
