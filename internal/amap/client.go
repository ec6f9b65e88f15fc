// 包 amap：高德 Web 服务 REST 客户端，提供正/逆地理编码与 IP 定位
// 背景：位置匹配链路的唯一在线数据源；所有调用带超时，失败按“空结果/错误”降级，不影响主流程
package amap

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gourmet-log/internal/logger"
	"gourmet-log/internal/metrics"
)

const (
	geocodeURL   = "https://restapi.amap.com/v3/geocode/geo"
	placeTextURL = "https://restapi.amap.com/v3/place/text"
	inputTipsURL = "https://restapi.amap.com/v3/assistant/inputtips"
	regeoURL     = "https://restapi.amap.com/v3/geocode/regeo"
	ipURL        = "https://restapi.amap.com/v3/ip"
)

// Candidate：一次地理编码查询的单个候选；列表由本地重排，供应商不保证顺序
type Candidate struct {
	FormattedAddress string  `json:"formatted_address"`
	Province         string  `json:"province,omitempty"`
	City             string  `json:"city,omitempty"`
	District         string  `json:"district,omitempty"`
	Township         string  `json:"township,omitempty"`
	Adcode           string  `json:"adcode,omitempty"`
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
}

// Regeo：逆地理编码结果
type Regeo struct {
	FormattedAddress string `json:"formatted_address"`
	Province         string `json:"province,omitempty"`
	City             string `json:"city,omitempty"`
	District         string `json:"district,omitempty"`
	Adcode           string `json:"adcode,omitempty"`
}

// IPLocation：IP 定位结果；Rectangle 为城市外接矩形 "lng1,lat1;lng2,lat2"，可能为空
type IPLocation struct {
	Province  string
	City      string
	Adcode    string
	Rectangle string
}

// Cache：候选缓存接口，由 Redis 适配实现；nil 客户端表示不缓存
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, val string, ttl time.Duration) error
}

type Client struct {
	key      string
	hc       *http.Client
	cache    Cache
	cacheTTL time.Duration
}

// NewClient：key 必填；hc 为空时使用 5s 超时默认客户端；cache 可为 nil
func NewClient(key string, hc *http.Client, cache Cache) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{key: key, hc: hc, cache: cache, cacheTTL: 24 * time.Hour}
}

var ErrMissingKey = errors.New("amap: missing server key")

// Geocode：地址文本 → 候选列表
// 背景：裸地名（如“书店街”）直查常只有 0~1 条结果，此时并入 POI 搜索与输入提示扩大候选面；
// 城市提示仅作为供应商侧偏置参数传入，本地重排由调用方负责。
// 返回空列表是合法结果（无匹配），不是错误。
func (c *Client) Geocode(ctx context.Context, address, cityHint string) ([]Candidate, error) {
	if c.key == "" {
		return nil, ErrMissingKey
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, nil
	}
	cacheKey := "geo:" + cityHint + ":" + address
	if c.cache != nil {
		if s, err := c.cache.Get(ctx, cacheKey); err == nil && s != "" {
			var cached []Candidate
			if json.Unmarshal([]byte(s), &cached) == nil {
				metrics.GeocodeCacheHitsTotal.Inc()
				logger.L().Debug("geocode_cache_hit", "address", address, "city", cityHint)
				return cached, nil
			}
		}
		metrics.GeocodeCacheMissesTotal.Inc()
	}

	t0 := time.Now()
	metrics.GeocodeRequestsTotal.Inc()
	primary, err := c.geocodeOnce(ctx, address, cityHint)
	if err != nil {
		metrics.GeocodeFailTotal.Inc()
		logger.L().Error("geocode_error", "address", address, "err", err)
		return nil, err
	}

	merged := primary
	if len(primary) <= 1 {
		// POI 与输入提示失败只收窄候选面，不升级为错误
		places, _ := c.searchPlaces(ctx, address, cityHint)
		tips, _ := c.searchInputTips(ctx, address, cityHint)
		merged = mergeCandidates(primary, append(places, tips...))
	}
	metrics.GeocodeDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	if len(merged) == 0 {
		metrics.GeocodeEmptyTotal.Inc()
	}
	logger.L().Debug("geocode_done", "address", address, "city", cityHint, "candidates", len(merged))

	if c.cache != nil {
		if b, err := json.Marshal(merged); err == nil {
			_ = c.cache.Set(ctx, cacheKey, string(b), c.cacheTTL)
		}
	}
	return merged, nil
}

type geocodeResponse struct {
	Status   string `json:"status"`
	Info     string `json:"info"`
	Geocodes []struct {
		FormattedAddress string          `json:"formatted_address"`
		Adcode           string          `json:"adcode"`
		Location         string          `json:"location"`
		AddressComponent json.RawMessage `json:"addressComponent"`
	} `json:"geocodes"`
}

// addressComponent：省市区字段在空结果时会返回 []，需容错解析
type addressComponent struct {
	Province string `json:"province"`
	City     string `json:"city"`
	District string `json:"district"`
	Township string `json:"township"`
}

func (c *Client) geocodeOnce(ctx context.Context, address, cityHint string) ([]Candidate, error) {
	q := url.Values{}
	q.Set("key", c.key)
	q.Set("address", address)
	if cityHint != "" {
		q.Set("city", cityHint)
	}
	var r geocodeResponse
	if err := c.getJSON(ctx, geocodeURL+"?"+q.Encode(), &r); err != nil {
		return nil, err
	}
	if r.Status != "1" {
		logger.L().Warn("geocode_provider_reject", "info", r.Info)
		return nil, nil
	}
	out := make([]Candidate, 0, len(r.Geocodes))
	for _, g := range r.Geocodes {
		lng, lat, ok := splitLocation(g.Location)
		if !ok {
			continue
		}
		var comp addressComponent
		_ = json.Unmarshal(g.AddressComponent, &comp)
		out = append(out, Candidate{
			FormattedAddress: g.FormattedAddress,
			Province:         comp.Province,
			City:             comp.City,
			District:         comp.District,
			Township:         comp.Township,
			Adcode:           g.Adcode,
			Lat:              lat,
			Lng:              lng,
		})
	}
	return out, nil
}

type placeResponse struct {
	Status string `json:"status"`
	Info   string `json:"info"`
	POIs   []struct {
		Name     string `json:"name"`
		Address  string `json:"address"`
		Location string `json:"location"`
		PName    string `json:"pname"`
		CityName string `json:"cityname"`
		AdName   string `json:"adname"`
		Adcode   string `json:"adcode"`
	} `json:"pois"`
}

func (c *Client) searchPlaces(ctx context.Context, keyword, cityHint string) ([]Candidate, error) {
	q := url.Values{}
	q.Set("key", c.key)
	q.Set("keywords", keyword)
	q.Set("offset", "6")
	q.Set("extensions", "base")
	if cityHint != "" {
		q.Set("city", cityHint)
		q.Set("citylimit", "true")
	}
	var r placeResponse
	if err := c.getJSON(ctx, placeTextURL+"?"+q.Encode(), &r); err != nil {
		return nil, err
	}
	if r.Status != "1" {
		return nil, nil
	}
	out := make([]Candidate, 0, len(r.POIs))
	for _, poi := range r.POIs {
		lng, lat, ok := splitLocation(poi.Location)
		if !ok {
			continue
		}
		out = append(out, Candidate{
			FormattedAddress: joinNameAddress(poi.Name, poi.Address),
			Province:         poi.PName,
			City:             poi.CityName,
			District:         poi.AdName,
			Adcode:           poi.Adcode,
			Lat:              lat,
			Lng:              lng,
		})
	}
	return out, nil
}

type inputTipsResponse struct {
	Status string `json:"status"`
	Info   string `json:"info"`
	Tips   []struct {
		Name     string          `json:"name"`
		District string          `json:"district"`
		Adcode   json.RawMessage `json:"adcode"`
		Location json.RawMessage `json:"location"`
	} `json:"tips"`
}

func (c *Client) searchInputTips(ctx context.Context, keyword, cityHint string) ([]Candidate, error) {
	q := url.Values{}
	q.Set("key", c.key)
	q.Set("keywords", keyword)
	q.Set("datatype", "all")
	if cityHint != "" {
		q.Set("city", cityHint)
		q.Set("citylimit", "true")
	} else {
		q.Set("citylimit", "false")
	}
	var r inputTipsResponse
	if err := c.getJSON(ctx, inputTipsURL+"?"+q.Encode(), &r); err != nil {
		return nil, err
	}
	if r.Status != "1" {
		return nil, nil
	}
	out := make([]Candidate, 0, len(r.Tips))
	for _, tip := range r.Tips {
		// location 字段在无坐标时为 []，有坐标时为 "lng,lat" 字符串
		var loc string
		if json.Unmarshal(tip.Location, &loc) != nil {
			continue
		}
		lng, lat, ok := splitLocation(loc)
		if !ok {
			continue
		}
		name := tip.Name
		if name == "" {
			name = tip.District
		}
		if name == "" {
			name = keyword
		}
		var adcode string
		_ = json.Unmarshal(tip.Adcode, &adcode)
		out = append(out, Candidate{
			FormattedAddress: name,
			Province:         tip.District,
			City:             tip.District,
			District:         tip.District,
			Adcode:           adcode,
			Lat:              lat,
			Lng:              lng,
		})
	}
	return out, nil
}

type regeoResponse struct {
	Status string `json:"status"`
	Info   string `json:"info"`
	Regeo  *struct {
		FormattedAddress string          `json:"formatted_address"`
		AddressComponent json.RawMessage `json:"addressComponent"`
	} `json:"regeocode"`
}

// ReverseGeocode：坐标 → 结构化地址
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (*Regeo, error) {
	if c.key == "" {
		return nil, ErrMissingKey
	}
	q := url.Values{}
	q.Set("key", c.key)
	q.Set("location", formatCoord(lng)+","+formatCoord(lat))
	q.Set("radius", "1000")
	q.Set("extensions", "base")
	q.Set("roadlevel", "0")
	var r regeoResponse
	if err := c.getJSON(ctx, regeoURL+"?"+q.Encode(), &r); err != nil {
		logger.L().Error("regeo_error", "lat", lat, "lng", lng, "err", err)
		return nil, err
	}
	if r.Status != "1" || r.Regeo == nil {
		return nil, errors.New("amap: reverse geocoding failed: " + r.Info)
	}
	var comp struct {
		Province string `json:"province"`
		City     string `json:"city"`
		District string `json:"district"`
		Adcode   string `json:"adcode"`
	}
	_ = json.Unmarshal(r.Regeo.AddressComponent, &comp)
	addr := r.Regeo.FormattedAddress
	if addr == "" {
		addr = "未知位置"
	}
	logger.L().Debug("regeo_done", "lat", lat, "lng", lng, "address", addr)
	return &Regeo{
		FormattedAddress: addr,
		Province:         comp.Province,
		City:             comp.City,
		District:         comp.District,
		Adcode:           comp.Adcode,
	}, nil
}

type ipResponse struct {
	Status    string `json:"status"`
	Info      string `json:"info"`
	Infocode  string `json:"infocode"`
	Province  string `json:"province"`
	City      string `json:"city"`
	Adcode    string `json:"adcode"`
	Rectangle string `json:"rectangle"`
}

// LocateIP：查询 IP 的城市级定位；ip 为空时由供应商按请求来源定位
// 约束：仅支持国内 IPv4；省/市字段在海外或失败场景可能为空数组，按空字符串容错
func (c *Client) LocateIP(ctx context.Context, ip string) (*IPLocation, error) {
	if c.key == "" {
		return nil, ErrMissingKey
	}
	q := url.Values{}
	q.Set("key", c.key)
	if ip != "" {
		q.Set("ip", ip)
	}
	var raw struct {
		Status    string          `json:"status"`
		Info      string          `json:"info"`
		Province  json.RawMessage `json:"province"`
		City      json.RawMessage `json:"city"`
		Adcode    json.RawMessage `json:"adcode"`
		Rectangle json.RawMessage `json:"rectangle"`
	}
	if err := c.getJSON(ctx, ipURL+"?"+q.Encode(), &raw); err != nil {
		logger.L().Error("amap_ip_error", "ip", ip, "err", err)
		return nil, err
	}
	if raw.Status != "1" {
		return nil, errors.New("amap: ip locate failed: " + raw.Info)
	}
	loc := &IPLocation{
		Province:  rawString(raw.Province),
		City:      rawString(raw.City),
		Adcode:    rawString(raw.Adcode),
		Rectangle: rawString(raw.Rectangle),
	}
	logger.L().Debug("amap_ip_done", "ip", ip, "province", loc.Province, "city", loc.City)
	return loc, nil
}

// CenterOfRectangle：城市外接矩形的中点；解析失败返回 false
func CenterOfRectangle(rect string) (lat, lng float64, ok bool) {
	parts := strings.Split(rect, ";")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lng1, lat1, ok1 := splitLocation(parts[0])
	lng2, lat2, ok2 := splitLocation(parts[1])
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	return (lat1 + lat2) / 2, (lng1 + lng2) / 2, true
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.New("amap: http " + resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// mergeCandidates：并入次级来源，按“格式化地址+adcode”去重，主来源在前
func mergeCandidates(primary, fallback []Candidate) []Candidate {
	if len(fallback) == 0 {
		return primary
	}
	seen := make(map[string]bool, len(primary)+len(fallback))
	merged := make([]Candidate, 0, len(primary)+len(fallback))
	for _, c := range primary {
		seen[c.FormattedAddress+"-"+c.Adcode] = true
		merged = append(merged, c)
	}
	for _, c := range fallback {
		key := c.FormattedAddress + "-" + c.Adcode
		if !seen[key] {
			seen[key] = true
			merged = append(merged, c)
		}
	}
	return merged
}

func splitLocation(s string) (lng, lat float64, ok bool) {
	i := strings.IndexByte(s, ',')
	if i <= 0 || i >= len(s)-1 {
		return 0, 0, false
	}
	lng, err1 := strconv.ParseFloat(s[:i], 64)
	lat, err2 := strconv.ParseFloat(s[i+1:], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lng, lat, true
}

func joinNameAddress(name, address string) string {
	name = strings.TrimSpace(name)
	address = strings.TrimSpace(address)
	switch {
	case name != "" && address != "":
		return name + " " + address
	case name != "":
		return name
	case address != "":
		return address
	}
	return "未知地址"
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// rawString：高德在字段无值时返回 []，有值时返回字符串；统一拿到字符串
func rawString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}
