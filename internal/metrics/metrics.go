package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gourmet_requests_total",
		Help: "Total number of API requests",
	})
	RequestDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gourmet_request_duration_ms",
		Help:    "Request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	})
	GeocodeRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gourmet_geocode_requests_total",
		Help: "Total amap geocode REST requests",
	})
	GeocodeFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gourmet_geocode_fail_total",
		Help: "Total amap geocode REST failures",
	})
	GeocodeEmptyTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gourmet_geocode_empty_total",
		Help: "Total geocode queries with no candidates",
	})
	GeocodeDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gourmet_geocode_duration_ms",
		Help:    "AMap geocode call duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	})
	GeocodeCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gourmet_geocode_cache_hits_total",
		Help: "Total redis geocode cache hits",
	})
	GeocodeCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gourmet_geocode_cache_misses_total",
		Help: "Total redis geocode cache misses",
	})
	IPLocateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gourmet_ip_locate_total",
		Help: "Total IP locate attempts by backend",
	}, []string{"backend"})
	IPLocateFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gourmet_ip_locate_fail_total",
		Help: "Total IP locate failures by backend",
	}, []string{"backend"})
	OriginResolveTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gourmet_origin_resolve_total",
		Help: "Total origin resolutions by source",
	}, []string{"source"})
	OriginStaleDropTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gourmet_origin_stale_drop_total",
		Help: "Total stale resolution results discarded by fencing",
	})
	GeoDriftRejectTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gourmet_geo_drift_reject_total",
		Help: "Total browser fixes rejected by the drift gate",
	})
	AIRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gourmet_ai_requests_total",
		Help: "Total AI requests by operation",
	}, []string{"op"})
	AIFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gourmet_ai_fail_total",
		Help: "Total AI request failures by operation",
	}, []string{"op"})
	AIDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gourmet_ai_duration_ms",
		Help:    "AI call duration in milliseconds",
		Buckets: []float64{50, 100, 200, 500, 1000, 2000, 5000, 10000},
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(GeocodeRequestsTotal)
	prometheus.MustRegister(GeocodeFailTotal)
	prometheus.MustRegister(GeocodeEmptyTotal)
	prometheus.MustRegister(GeocodeDurationMs)
	prometheus.MustRegister(GeocodeCacheHitsTotal)
	prometheus.MustRegister(GeocodeCacheMissesTotal)
	prometheus.MustRegister(IPLocateTotal)
	prometheus.MustRegister(IPLocateFailTotal)
	prometheus.MustRegister(OriginResolveTotal)
	prometheus.MustRegister(OriginStaleDropTotal)
	prometheus.MustRegister(GeoDriftRejectTotal)
	prometheus.MustRegister(AIRequestsTotal)
	prometheus.MustRegister(AIFailTotal)
	prometheus.MustRegister(AIDurationMs)
}

// 文档注释：返回 Prometheus 指标处理器
// 背景：统一暴露注册指标到 /metrics 路径，供抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
