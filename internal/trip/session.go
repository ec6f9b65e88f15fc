package trip

import (
	"context"
	"errors"
	"strings"
	"sync"

	"gourmet-log/internal/ai"
	"gourmet-log/internal/geomath"
	"gourmet-log/internal/logger"
	"gourmet-log/internal/origin"
	"gourmet-log/internal/store"
)

// SpotLister：餐厅读取依赖
type SpotLister interface {
	ListSpots(ctx context.Context) ([]store.FoodSpot, error)
}

// PlanSaver：规划持久化依赖
type PlanSaver interface {
	CreatePlan(ctx context.Context, p *store.TripPlan) (*store.TripPlan, error)
}

// PlanAI：AI 规划依赖
type PlanAI interface {
	GeneratePlan(ctx context.Context, intent string, spots []ai.PlanSpot) (*ai.PlanResult, error)
}

// PlanState：最近一次成功生成的规划；Order 为 nil 表示模型未给顺序
type PlanState struct {
	Title   string  `json:"title"`
	Summary string  `json:"summary"`
	Order   []int64 `json:"order,omitempty"`
}

const defaultPlanTitle = "旅途规划"

// Session：单租户规划会话，编排出发点解析、集合筛选与 AI 规划
// 约束：共享状态只在异步调用返回后整体更新，失败路径保持上一份好状态
type Session struct {
	resolver *origin.Resolver
	spots    SpotLister
	planAI   PlanAI
	plans    PlanSaver

	mu        sync.Mutex
	intent    string
	selected  []int64
	radiusRaw string
	plan      *PlanState
}

func NewSession(resolver *origin.Resolver, spots SpotLister, planAI PlanAI, plans PlanSaver) *Session {
	return &Session{resolver: resolver, spots: spots, planAI: planAI, plans: plans, radiusRaw: "6"}
}

// Resolver：暴露出发点解析器给传输层直接转发定位事件
func (s *Session) Resolver() *origin.Resolver { return s.resolver }

// SetIntent：更新需求文本并触发出发点自动解析
func (s *Session) SetIntent(ctx context.Context, intent string) (origin.Outcome, error) {
	s.mu.Lock()
	s.intent = intent
	s.mu.Unlock()
	return s.resolver.SetIntent(ctx, intent)
}

// SetSelection：替换手动选择集合
func (s *Session) SetSelection(ids []int64) {
	s.mu.Lock()
	s.selected = append([]int64(nil), ids...)
	s.mu.Unlock()
}

// SetRadius：替换半径原始输入；解析推迟到取视图时进行
func (s *Session) SetRadius(raw string) {
	s.mu.Lock()
	s.radiusRaw = raw
	s.mu.Unlock()
}

// View：当前会话的完整推导视图
type View struct {
	Origin        origin.State     `json:"origin"`
	RadiusKm      float64          `json:"radius_km"` // 0 表示不限制
	Intent        string           `json:"intent"`
	SelectedIDs   []int64          `json:"selected_ids,omitempty"`
	FilteredSpots []store.FoodSpot `json:"filtered_spots"`
	ActiveSpots   []store.FoodSpot `json:"active_spots"`
	OrderedSpots  []store.FoodSpot `json:"ordered_spots"`
	Plan          *PlanState       `json:"plan,omitempty"`
}

// CurrentView：读取全量餐厅并按当前出发点/半径/选择/顺序推导集合
func (s *Session) CurrentView(ctx context.Context) (*View, error) {
	spots, err := s.spots.ListSpots(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	intent := s.intent
	selected := append([]int64(nil), s.selected...)
	radius := ParseRadiusKm(s.radiusRaw)
	plan := s.plan
	s.mu.Unlock()

	st := s.resolver.Snapshot()
	filtered := FilterByOrigin(spots, st.Location, radius)
	active := ActiveSpots(SelectByIDs(spots, selected), filtered)
	var order []int64
	if plan != nil {
		order = plan.Order
	}
	return &View{
		Origin:        st,
		RadiusKm:      radius,
		Intent:        intent,
		SelectedIDs:   selected,
		FilteredSpots: filtered,
		ActiveSpots:   active,
		OrderedSpots:  ApplyOrder(active, order),
		Plan:          plan,
	}, nil
}

// Generate：用有效集合（而非全量）构造规划请求，控制成本与延迟
// 成功才替换规划状态；失败保留上一份规划与选择，不做部分写入
func (s *Session) Generate(ctx context.Context) (*PlanState, error) {
	view, err := s.CurrentView(ctx)
	if err != nil {
		return s.currentPlan(), err
	}
	if len(view.ActiveSpots) == 0 {
		return s.currentPlan(), errors.New("没有可用于规划的餐厅")
	}
	if s.planAI == nil {
		return s.currentPlan(), errors.New("未配置 OpenAI 密钥，无法生成规划")
	}
	req := make([]ai.PlanSpot, 0, len(view.ActiveSpots))
	for _, sp := range view.ActiveSpots {
		ps := ai.PlanSpot{
			ID:          sp.ID,
			Name:        sp.Name,
			AddressText: sp.AddressText,
			Taste:       sp.Taste,
			Summary:     sp.Summary,
		}
		if view.Origin.Location != nil {
			d := geomath.DistanceKm(*view.Origin.Location, geomath.Point{Lat: sp.Lat, Lng: sp.Lng})
			ps.DistanceKm = &d
		}
		req = append(req, ps)
	}
	res, err := s.planAI.GeneratePlan(ctx, view.Intent, req)
	if err != nil {
		logger.L().Warn("plan_generate_error", "err", err)
		return s.currentPlan(), err
	}
	next := &PlanState{Title: res.Title, Summary: res.Summary, Order: res.Order}
	if next.Title == "" {
		next.Title = defaultPlanTitle
	}
	s.mu.Lock()
	s.plan = next
	s.mu.Unlock()
	logger.L().Debug("plan_generated", "title", next.Title, "order_len", len(next.Order))
	return next, nil
}

// Save：持久化当前规划
// 落库前重新推导有效集合复核非空，避免“生成与保存之间餐厅已变化”的竞态保存空集；
// 未生成规划时退化为按筛选/选择顺序保存有效集合
func (s *Session) Save(ctx context.Context, title, summary string) (*store.TripPlan, error) {
	view, err := s.CurrentView(ctx)
	if err != nil {
		return nil, err
	}
	if len(view.ActiveSpots) == 0 {
		return nil, errors.New("没有可保存的餐厅")
	}

	// OrderedSpots 已把 AI 顺序并回有效集合：未提到的不丢、已失效的不存
	spotIDs := make([]int64, 0, len(view.OrderedSpots))
	for _, sp := range view.OrderedSpots {
		spotIDs = append(spotIDs, sp.ID)
	}

	title = strings.TrimSpace(title)
	if title == "" && view.Plan != nil {
		title = view.Plan.Title
	}
	if title == "" {
		title = defaultPlanTitle
	}
	summary = strings.TrimSpace(summary)
	if summary == "" && view.Plan != nil {
		summary = view.Plan.Summary
	}

	p := &store.TripPlan{
		Title:      title,
		Summary:    summary,
		SpotIDs:    spotIDs,
		OriginText: strings.TrimSpace(view.Origin.Text),
	}
	if view.Origin.Location != nil {
		lat, lng := view.Origin.Location.Lat, view.Origin.Location.Lng
		p.OriginLat, p.OriginLng = &lat, &lng
	}
	if view.RadiusKm > 0 {
		r := view.RadiusKm
		p.RadiusKm = &r
	}
	saved, err := s.plans.CreatePlan(ctx, p)
	if err != nil {
		logger.L().Error("plan_save_error", "err", err)
		return nil, err
	}
	return saved, nil
}

func (s *Session) currentPlan() *PlanState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}
