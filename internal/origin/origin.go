// 包 origin：把多路互不信任的定位信号（需求文本、手动输入、浏览器定位、IP 定位、坐标字面量）
// 收敛为唯一可信出发点的状态机
// 背景：各信号可信度不同且可能并发到达，必须用显式优先级与栅栏保证状态一致；
// 状态只通过命名转移整体替换，绝不做字段级散改
package origin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"gourmet-log/internal/amap"
	"gourmet-log/internal/geomath"
	"gourmet-log/internal/hint"
	"gourmet-log/internal/iploc"
	"gourmet-log/internal/logger"
	"gourmet-log/internal/metrics"
)

// Source：出发点来源，决定展示与优先级
type Source string

const (
	SourceNone   Source = ""
	SourceIntent Source = "intent"
	SourceManual Source = "manual"
	SourceGeo    Source = "geo"
	SourceIP     Source = "ip"
)

const (
	// maxGeoAccuracyM：浏览器定位可接受的最大精度半径，超过视为不可靠
	maxGeoAccuracyM = 8000.0
	// maxGeoDriftKm：浏览器定位与 IP 城市中心允许的最大偏差，超过按 VPN/伪造处理
	maxGeoDriftKm = 120.0
)

// State：当前解析结果的完整快照
// Candidates 非空表示等待用户消歧，此时 Location 必为 nil
type State struct {
	Location   *geomath.Point   `json:"location,omitempty"`
	Source     Source           `json:"source"`
	AccuracyM  float64          `json:"accuracy_m"` // 仅 source=geo 有意义；<0 表示未知
	Text       string           `json:"text"`
	Candidates []amap.Candidate `json:"candidates,omitempty"`
}

// Resolved：是否已有可用出发点
func (s State) Resolved() bool { return s.Location != nil }

// AwaitingChoice：是否在等待用户从多候选中选择
func (s State) AwaitingChoice() bool { return len(s.Candidates) > 0 }

// Geocoder：正/逆地理编码依赖
type Geocoder interface {
	Geocode(ctx context.Context, address, cityHint string) ([]amap.Candidate, error)
	ReverseGeocode(ctx context.Context, lat, lng float64) (*amap.Regeo, error)
}

// IPLocator：IP 定位依赖；实现方自行决定取哪个 IP
type IPLocator interface {
	Locate(ctx context.Context) (*iploc.Result, error)
}

// Outcome：一次转移后的快照与用户可见提示（漂移告警、消歧提示等）
// 提示与 error 互斥使用：提示属于正常流程，error 表示本次转移失败且状态未变
type Outcome struct {
	State  State  `json:"state"`
	Notice string `json:"notice,omitempty"`
}

// Resolver：出发点解析器
// 并发契约：同一信号层级内“后解析者胜出”；每次解析尝试持有递增序号，
// 提交时序号已过期的结果直接丢弃，避免慢响应覆盖新状态
type Resolver struct {
	geocoder Geocoder
	iplocate IPLocator

	mu       sync.Mutex
	st       State
	intent   string        // 最近一次需求文本，供定位后的需求覆盖规则使用
	lastHint string        // 最近一次成功解析的需求地点短语，避免重扫重复解析
	ipHint   *iploc.Result // 被动缓存的 IP 定位，只做兜底与城市偏置
	seq      uint64
}

func NewResolver(geocoder Geocoder, iplocate IPLocator) *Resolver {
	return &Resolver{geocoder: geocoder, iplocate: iplocate, st: State{AccuracyM: -1}}
}

// Snapshot：返回当前状态的深拷贝
func (r *Resolver) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Resolver) snapshotLocked() State {
	s := r.st
	if s.Location != nil {
		p := *s.Location
		s.Location = &p
	}
	if s.Candidates != nil {
		s.Candidates = append([]amap.Candidate(nil), s.Candidates...)
	}
	return s
}

func (r *Resolver) outcome(notice string) Outcome {
	return Outcome{State: r.Snapshot(), Notice: notice}
}

// begin：登记一次新的解析尝试并作废所有在途尝试
func (r *Resolver) begin() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq
}

// commit：仅当 token 仍是最新尝试时应用转移；过期结果计数后丢弃
func (r *Resolver) commit(token uint64, apply func(*State)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if token != r.seq {
		metrics.OriginStaleDropTotal.Inc()
		logger.L().Debug("origin_stale_drop", "token", token, "seq", r.seq)
		return false
	}
	next := r.snapshotLocked()
	apply(&next)
	r.st = next
	return true
}

// noteHint：记录本次成功解析对应的需求短语；非需求来源一律清空
func (r *Resolver) noteHint(reason Source, query string) {
	r.mu.Lock()
	if reason == SourceIntent {
		r.lastHint = query
	} else {
		r.lastHint = ""
	}
	r.mu.Unlock()
}

// SetIntent：需求文本变化入口，提取地点短语并自动定位
// 优先级约束：手动定位一经设置即锁定，后台需求重扫不得覆盖（显式“匹配位置”除外）；
// 同一地点短语不重复解析
func (r *Resolver) SetIntent(ctx context.Context, intent string) (Outcome, error) {
	r.mu.Lock()
	r.intent = intent
	cur := r.st
	last := r.lastHint
	r.mu.Unlock()

	h := hint.ExtractHint(intent)
	if h == "" {
		return r.outcome(""), nil
	}
	if cur.Source == SourceManual {
		logger.L().Debug("origin_intent_locked", "hint", h)
		return r.outcome(""), nil
	}
	if cur.Source == SourceIntent && h == last {
		return r.outcome(""), nil
	}
	return r.resolveText(ctx, h, SourceIntent)
}

// MatchText：显式“匹配位置”动作；作为用户直接操作，允许覆盖任何已有来源
func (r *Resolver) MatchText(ctx context.Context, text string) (Outcome, error) {
	value := strings.TrimSpace(text)
	if value == "" {
		return r.outcome(""), errors.New("请先填写位置，或直接在规划需求里写“到XX了”")
	}
	return r.resolveText(ctx, value, SourceManual)
}

// resolveText：文本 → 出发点的公共路径
// 坐标字面量短路（不经过地理编码）；0 候选清空出发点并报错；1 候选自动采用；
// 多候选转入待消歧态，绝不替用户猜测
func (r *Resolver) resolveText(ctx context.Context, query string, reason Source) (Outcome, error) {
	token := r.begin()

	if pt := geomath.ParseCoordinatePair(query); pt != nil {
		if r.commit(token, func(s *State) {
			s.Location = pt
			s.Source = reason
			s.Text = ""
			s.Candidates = nil
			s.AccuracyM = -1
		}) {
			r.noteHint(reason, query)
			metrics.OriginResolveTotal.WithLabelValues(string(reason)).Inc()
			logger.L().Debug("origin_coord_literal", "reason", string(reason), "lat", pt.Lat, "lng", pt.Lng)
		}
		return r.outcome(""), nil
	}

	city := hint.ExtractCityHint(query)
	if city == "" {
		city = r.cachedIPCity()
	}
	cands, err := r.geocoder.Geocode(ctx, query, city)
	if err != nil {
		// 供应商失败不做任何状态变更，保持失败前的出发点
		return r.outcome(""), fmt.Errorf("位置匹配失败: %w", err)
	}
	ranked := RankCandidates(cands, city)

	switch len(ranked) {
	case 0:
		if r.commit(token, func(s *State) {
			s.Location = nil
			s.Source = SourceNone
			s.Candidates = nil
		}) {
			r.noteHint(SourceNone, "")
			return r.outcome(""), fmt.Errorf("未找到“%s”对应的位置", query)
		}
		return r.outcome(""), nil
	case 1:
		first := ranked[0]
		if r.commit(token, func(s *State) {
			s.Location = &geomath.Point{Lat: first.Lat, Lng: first.Lng}
			s.Text = first.FormattedAddress
			s.Source = reason
			s.Candidates = nil
			s.AccuracyM = -1
		}) {
			r.noteHint(reason, query)
			metrics.OriginResolveTotal.WithLabelValues(string(reason)).Inc()
			logger.L().Debug("origin_resolved", "reason", string(reason), "text", first.FormattedAddress)
		}
		return r.outcome(""), nil
	default:
		if r.commit(token, func(s *State) {
			s.Location = nil
			s.Source = SourceNone
			s.Text = query
			s.Candidates = ranked
		}) {
			logger.L().Debug("origin_ambiguous", "query", query, "candidates", len(ranked))
			return r.outcome("已识别多个地址候选，请选择最准确的一项"), nil
		}
		return r.outcome(""), nil
	}
}

// ChooseCandidate：用户从候选列表中选定一项，无论触发原因一律转为手动来源
func (r *Resolver) ChooseCandidate(index int) (Outcome, error) {
	r.mu.Lock()
	if index < 0 || index >= len(r.st.Candidates) {
		r.mu.Unlock()
		return r.outcome(""), errors.New("候选序号无效")
	}
	c := r.st.Candidates[index]
	r.seq++ // 作废所有在途解析
	next := r.snapshotLocked()
	next.Location = &geomath.Point{Lat: c.Lat, Lng: c.Lng}
	next.Text = c.FormattedAddress
	next.Source = SourceManual
	next.Candidates = nil
	next.AccuracyM = -1
	r.lastHint = ""
	r.st = next
	r.mu.Unlock()
	metrics.OriginResolveTotal.WithLabelValues(string(SourceManual)).Inc()
	logger.L().Debug("origin_candidate_chosen", "index", index, "text", c.FormattedAddress)
	return r.outcome(""), nil
}

// PrefetchIP：启动时机会性预取 IP 定位
// 约束：仅写入被动缓存供兜底与城市偏置使用，绝不触碰已解析状态
func (r *Resolver) PrefetchIP(ctx context.Context) {
	res, err := r.iplocate.Locate(ctx)
	if err != nil {
		logger.L().Debug("origin_ip_prefetch_miss", "err", err)
		return
	}
	r.mu.Lock()
	r.ipHint = res
	r.mu.Unlock()
	logger.L().Debug("origin_ip_prefetch_ok", "city", res.City, "has_center", res.Center != nil)
}

// UseIP：显式采用 IP 定位（或作为定位降级路径）
func (r *Resolver) UseIP(ctx context.Context) (Outcome, error) {
	token := r.begin()
	r.mu.Lock()
	res := r.ipHint
	r.mu.Unlock()
	if res == nil {
		fetched, err := r.iplocate.Locate(ctx)
		if err != nil {
			return r.outcome(""), fmt.Errorf("IP 定位失败: %w", err)
		}
		r.mu.Lock()
		r.ipHint = fetched
		r.mu.Unlock()
		res = fetched
	}
	if res.Center == nil {
		return r.outcome(""), errors.New("IP 定位不可用")
	}
	text := res.City
	if text == "" {
		text = res.Province
	}
	center := *res.Center
	if r.commit(token, func(s *State) {
		s.Location = &center
		s.Text = text
		s.Source = SourceIP
		s.Candidates = nil
		s.AccuracyM = -1
	}) {
		metrics.OriginResolveTotal.WithLabelValues(string(SourceIP)).Inc()
		logger.L().Debug("origin_resolved_ip", "text", text)
	}
	return r.outcome(""), nil
}

// GeoFix：浏览器单次定位读数；AccuracyM 缺省表示精度未知，精度闸门只看已知值
type GeoFix struct {
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	AccuracyM *float64 `json:"accuracy_m"`
}

// ProvideGeoFix：采纳浏览器定位读数
// 两道闸门：精度 > 8000m 直接降级 IP；与 IP 城市中心偏差 > 120km 按伪造拒绝并告警。
// 成功落点后若需求文本仍含地点短语，则需求覆盖刚设置的定位（明说的地点优先于环境信号）。
func (r *Resolver) ProvideGeoFix(ctx context.Context, fix GeoFix) (Outcome, error) {
	accuracy := -1.0
	if fix.AccuracyM != nil {
		accuracy = *fix.AccuracyM
	}
	if accuracy >= 0 && accuracy > maxGeoAccuracyM {
		logger.L().Debug("origin_geo_low_accuracy", "accuracy_m", accuracy)
		return r.UseIP(ctx)
	}
	if ipCenter := r.cachedIPCenter(); ipCenter != nil {
		drift := geomath.DistanceKm(geomath.Point{Lat: fix.Lat, Lng: fix.Lng}, *ipCenter)
		if drift > maxGeoDriftKm {
			metrics.GeoDriftRejectTotal.Inc()
			logger.L().Warn("origin_geo_drift_reject", "drift_km", drift)
			notice := fmt.Sprintf("浏览器定位偏差约 %dkm，已切换到 IP 定位", int(math.Round(drift)))
			out, err := r.UseIP(ctx)
			out.Notice = notice
			return out, err
		}
	}

	token := r.begin()
	pt := geomath.Point{Lat: fix.Lat, Lng: fix.Lng}
	committed := r.commit(token, func(s *State) {
		s.Location = &pt
		s.Source = SourceGeo
		s.AccuracyM = accuracy
		s.Text = ""
		s.Candidates = nil
	})
	if committed {
		metrics.OriginResolveTotal.WithLabelValues(string(SourceGeo)).Inc()
		// 地址文本仅用于展示，逆编码失败保持空文本即可
		if info, err := r.geocoder.ReverseGeocode(ctx, fix.Lat, fix.Lng); err == nil {
			r.commit(token, func(s *State) { s.Text = info.FormattedAddress })
		}
	}

	r.mu.Lock()
	intent := r.intent
	r.mu.Unlock()
	if h := hint.ExtractHint(intent); h != "" {
		return r.resolveText(ctx, h, SourceIntent)
	}
	return r.outcome(""), nil
}

// GeoFixFailed：浏览器定位不可用/超时的降级入口
// IP 兜底成功时吞掉原始定位错误，只有兜底也失败才把原因抛给用户
func (r *Resolver) GeoFixFailed(ctx context.Context, cause string) (Outcome, error) {
	out, err := r.UseIP(ctx)
	if err != nil {
		if cause != "" {
			return out, errors.New(cause)
		}
		return out, err
	}
	return out, nil
}

func (r *Resolver) cachedIPCity() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ipHint == nil {
		return ""
	}
	return r.ipHint.City
}

func (r *Resolver) cachedIPCenter() *geomath.Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ipHint == nil || r.ipHint.Center == nil {
		return nil
	}
	p := *r.ipHint.Center
	return &p
}
