// 包 api：集中注册 HTTP API 路由以解耦主入口
// 背景：规划会话是单租户的，出发点/选择/半径等会话状态由 trip.Session 持有，
// 这里只做请求解析、调用编排与 JSON 序列化
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"gourmet-log/internal/ai"
	"gourmet-log/internal/amap"
	"gourmet-log/internal/ingest"
	"gourmet-log/internal/iploc"
	"gourmet-log/internal/logger"
	"gourmet-log/internal/metrics"
	"gourmet-log/internal/origin"
	"gourmet-log/internal/store"
	"gourmet-log/internal/trip"
)

// Deps：路由依赖集合；aicli 与 geocoder 允许为 nil（未配置密钥），对应端点返回明确错误
type Deps struct {
	Store    *store.Store
	Redis    *redis.Client
	Geocoder *amap.Client
	IPLoc    *iploc.Service
	AI       *ai.Client
	Ingest   *ingest.Service
	Session  *trip.Session
}

// 解析访问者 IP：优先参数，其次常见反向代理头，保证多层代理下稳定取到源 IP
func getClientIP(r *http.Request) string {
	if q := r.URL.Query().Get("ip"); q != "" {
		return q
	}
	h := r.Header
	if x := h.Get("x-forwarded-for"); x != "" {
		return strings.TrimSpace(strings.Split(x, ",")[0])
	}
	if x := h.Get("x-real-ip"); x != "" {
		return x
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i != -1 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// outcomeResponse：出发点转移的统一响应；error 与 notice 互斥出现
func writeOutcome(w http.ResponseWriter, out origin.Outcome, err error) {
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"state": out.State,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// BuildRoutes：构建并返回 API 路由，由主入口挂载到前缀下
func BuildRoutes(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/spots", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Inc()
		switch r.Method {
		case http.MethodGet:
			spots, err := d.Store.ListSpots(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, "读取记录失败")
				return
			}
			if spots == nil {
				spots = []store.FoodSpot{}
			}
			writeJSON(w, http.StatusOK, map[string]any{"spots": spots})
		case http.MethodPost:
			handleCreateSpot(d, w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/spots/", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Inc()
		id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/spots/"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "记录 ID 无效")
			return
		}
		switch r.Method {
		case http.MethodGet:
			sp, err := d.Store.GetSpot(r.Context(), id)
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "记录不存在")
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, "读取记录失败")
				return
			}
			writeJSON(w, http.StatusOK, sp)
		case http.MethodDelete:
			if err := d.Store.DeleteSpot(r.Context(), id); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					writeError(w, http.StatusNotFound, "记录不存在")
					return
				}
				writeError(w, http.StatusInternalServerError, "删除记录失败")
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/plans", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Inc()
		switch r.Method {
		case http.MethodGet:
			plans, err := d.Store.ListPlans(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, "读取规划失败")
				return
			}
			if plans == nil {
				plans = []store.TripPlan{}
			}
			writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
		case http.MethodPost:
			handleCreatePlan(d, w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/plans/", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Inc()
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/plans/"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "规划 ID 无效")
			return
		}
		if err := d.Store.DeletePlan(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "规划不存在")
				return
			}
			writeError(w, http.StatusInternalServerError, "删除规划失败")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/geocode", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Inc()
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Address string `json:"address"`
			City    string `json:"city"`
		}
		if err := decodeBody(r, &body); err != nil || strings.TrimSpace(body.Address) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "address 必填"})
			return
		}
		if d.Geocoder == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "未配置高德密钥"})
			return
		}
		cands, err := d.Geocoder.Geocode(r.Context(), body.Address, body.City)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": "位置匹配失败"})
			return
		}
		ranked := origin.RankCandidates(cands, body.City)
		if ranked == nil {
			ranked = []amap.Candidate{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"candidates": ranked}})
	})

	mux.HandleFunc("/regeo", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Inc()
		lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
		lng, err2 := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
		if err1 != nil || err2 != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "lat/lng 必填"})
			return
		}
		if d.Geocoder == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "未配置高德密钥"})
			return
		}
		info, err := d.Geocoder.ReverseGeocode(r.Context(), lat, lng)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": "逆地理编码失败"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": info})
	})

	mux.HandleFunc("/ip", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Inc()
		ip := getClientIP(r)
		ctx := r.Context()
		if d.Redis != nil && ip != "" {
			if s, _ := d.Redis.Get(ctx, "iploc:"+ip).Result(); s != "" {
				w.Header().Set("content-type", "application/json; charset=utf-8")
				w.Header().Set("cache-control", "no-store")
				_, _ = w.Write([]byte(s))
				return
			}
		}
		res, err := d.IPLoc.Locate(ctx, ip)
		if err != nil {
			writeError(w, http.StatusBadGateway, "IP 定位失败")
			return
		}
		if d.Redis != nil && ip != "" {
			if b, err := json.Marshal(res); err == nil {
				d.Redis.Set(ctx, "iploc:"+ip, string(b), 24*time.Hour)
			}
		}
		writeJSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("/ai/extract", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Inc()
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Type string `json:"type"`
			Text string `json:"text"`
			URL  string `json:"url"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "请求体无效"})
			return
		}
		var (
			res *ai.ExtractResult
			err error
		)
		switch body.Type {
		case "text":
			res, err = d.Ingest.FromText(r.Context(), body.Text)
		case "url":
			res, err = d.Ingest.FromURL(r.Context(), body.URL)
		default:
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "type 必须是 text 或 url"})
			return
		}
		if err != nil {
			logger.L().Warn("ai_extract_error", "type", body.Type, "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": res})
	})

	mux.HandleFunc("/ai/plan", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Inc()
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Intent string        `json:"intent"`
			Spots  []ai.PlanSpot `json:"spots"`
		}
		if err := decodeBody(r, &body); err != nil || len(body.Spots) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "spots 必填"})
			return
		}
		if d.AI == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "未配置 OpenAI 密钥"})
			return
		}
		res, err := d.AI.GeneratePlan(r.Context(), body.Intent, body.Spots)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	registerPlannerRoutes(mux, d)
	return mux
}

// handleCreateSpot：新建记录；未带坐标但有地址时先做一次地理编码取首个候选
func handleCreateSpot(d Deps, w http.ResponseWriter, r *http.Request) {
	var sp store.FoodSpot
	if err := decodeBody(r, &sp); err != nil || strings.TrimSpace(sp.Name) == "" {
		writeError(w, http.StatusBadRequest, "name 必填")
		return
	}
	if sp.Lat == 0 && sp.Lng == 0 && sp.AddressText != "" && d.Geocoder != nil {
		cands, err := d.Geocoder.Geocode(r.Context(), sp.AddressText, sp.City)
		if err == nil && len(cands) > 0 {
			first := origin.RankCandidates(cands, sp.City)[0]
			sp.Lat, sp.Lng = first.Lat, first.Lng
		} else {
			logger.L().Warn("spot_geocode_skip", "address", sp.AddressText, "err", err)
		}
	}
	if sp.Lat == 0 && sp.Lng == 0 {
		writeError(w, http.StatusBadRequest, "无法确定坐标，请提供 lat/lng 或可识别的地址")
		return
	}
	created, err := d.Store.CreateSpot(r.Context(), &sp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "保存记录失败")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleCreatePlan：直接按持久化契约建规划（会话之外的调用方使用）
func handleCreatePlan(d Deps, w http.ResponseWriter, r *http.Request) {
	var p store.TripPlan
	if err := decodeBody(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "请求体无效")
		return
	}
	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		writeError(w, http.StatusBadRequest, "title 必填")
		return
	}
	if len(p.SpotIDs) == 0 {
		writeError(w, http.StatusBadRequest, "spot_ids 不能为空")
		return
	}
	created, err := d.Store.CreatePlan(r.Context(), &p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "保存规划失败")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// registerPlannerRoutes：规划会话端点；全部走 Session 以保证状态转移的原子性
func registerPlannerRoutes(mux *http.ServeMux, d Deps) {
	sess := d.Session

	mux.HandleFunc("/planner", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Inc()
		view, err := sess.CurrentView(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "读取规划视图失败")
			return
		}
		writeJSON(w, http.StatusOK, view)
	})

	mux.HandleFunc("/planner/intent", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Inc()
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Intent string `json:"intent"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "请求体无效")
			return
		}
		out, err := sess.SetIntent(r.Context(), body.Intent)
		writeOutcome(w, out, err)
	})

	mux.HandleFunc("/planner/origin/match", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Inc()
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "请求体无效")
			return
		}
		out, err := sess.Resolver().MatchText(r.Context(), body.Text)
		writeOutcome(w, out, err)
	})

	mux.HandleFunc("/planner/origin/geolocate", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Inc()
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var fix origin.GeoFix
		if err := decodeBody(r, &fix); err != nil {
			writeError(w, http.StatusBadRequest, "请求体无效")
			return
		}
		out, err := sess.Resolver().ProvideGeoFix(r.Context(), fix)
		writeOutcome(w, out, err)
	})

	mux.HandleFunc("/planner/origin/geolocate-failed", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Inc()
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Message string `json:"message"`
		}
		_ = decodeBody(r, &body)
		if body.Message == "" {
			body.Message = "定位失败"
		}
		out, err := sess.Resolver().GeoFixFailed(r.Context(), body.Message)
		writeOutcome(w, out, err)
	})

	mux.HandleFunc("/planner/origin/ip", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Inc()
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		out, err := sess.Resolver().UseIP(r.Context())
		writeOutcome(w, out, err)
	})

	mux.HandleFunc("/planner/origin/candidate", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Inc()
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Index int `json:"index"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "请求体无效")
			return
		}
		out, err := sess.Resolver().ChooseCandidate(body.Index)
		writeOutcome(w, out, err)
	})

	mux.HandleFunc("/planner/select", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Inc()
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			IDs []int64 `json:"ids"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "请求体无效")
			return
		}
		sess.SetSelection(body.IDs)
		view, err := sess.CurrentView(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "读取规划视图失败")
			return
		}
		writeJSON(w, http.StatusOK, view)
	})

	mux.HandleFunc("/planner/radius", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Inc()
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			RadiusKm string `json:"radius_km"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "请求体无效")
			return
		}
		sess.SetRadius(body.RadiusKm)
		view, err := sess.CurrentView(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "读取规划视图失败")
			return
		}
		writeJSON(w, http.StatusOK, view)
	})

	mux.HandleFunc("/planner/generate", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Inc()
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		plan, err := sess.Generate(r.Context())
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "plan": plan})
			return
		}
		writeJSON(w, http.StatusOK, plan)
	})

	mux.HandleFunc("/planner/save", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.Inc()
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Title   string `json:"title"`
			Summary string `json:"summary"`
		}
		_ = decodeBody(r, &body)
		saved, err := sess.Save(r.Context(), body.Title, body.Summary)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	})
}

// 静态断言：Session 依赖的接口由 store 与 ai 客户端满足
var (
	_ trip.SpotLister = (*store.Store)(nil)
	_ trip.PlanSaver  = (*store.Store)(nil)
	_ trip.PlanAI     = (*ai.Client)(nil)
)
