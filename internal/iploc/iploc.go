// 包 iploc：IP 城市级定位，作为最低信任度的定位兜底
// 背景：在线走高德 v3/ip（矩形中点作为城市中心）；未配置服务端密钥或在线失败时，
// 回退到本地 GeoLite2-City 库，保证兜底链路离线可用
package iploc

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"

	"github.com/oschwald/geoip2-golang"

	"gourmet-log/internal/amap"
	"gourmet-log/internal/geomath"
	"gourmet-log/internal/logger"
	"gourmet-log/internal/metrics"
)

// Result：定位结果；Center 为空表示“定位不可用”（城市名可能仍有值）
type Result struct {
	City     string         `json:"city,omitempty"`
	Province string         `json:"province,omitempty"`
	Center   *geomath.Point `json:"center,omitempty"`
}

// AmapLocator：在线定位依赖，便于测试替换
type AmapLocator interface {
	LocateIP(ctx context.Context, ip string) (*amap.IPLocation, error)
}

type Service struct {
	online AmapLocator
	mmdb   *geoip2.Reader
}

// New：online 可为 nil（无高德密钥）；mmdb 打开失败只降级不报错
func New(online AmapLocator) *Service {
	s := &Service{online: online}
	path := os.Getenv("GEOLITE2_CITY_PATH")
	if path == "" {
		path = filepath.Join("data", "geolite2", "GeoLite2-City.mmdb")
	}
	if r, err := geoip2.Open(path); err == nil {
		s.mmdb = r
		logger.L().Info("geolite2_ready", "path", path)
	} else {
		logger.L().Warn("geolite2_unavailable", "path", path, "err", err)
	}
	return s
}

var ErrUnavailable = errors.New("iploc: no backend available")

// Locate：按 在线 → 本地库 的顺序定位；两者皆不可用时报错
// 约束：返回的 Result 可能没有 Center（城市已知但中心未知），调用方需区分
func (s *Service) Locate(ctx context.Context, ip string) (*Result, error) {
	if s.online != nil {
		metrics.IPLocateTotal.WithLabelValues("amap").Inc()
		loc, err := s.online.LocateIP(ctx, ip)
		if err == nil {
			res := &Result{City: loc.City, Province: loc.Province}
			if lat, lng, ok := amap.CenterOfRectangle(loc.Rectangle); ok {
				res.Center = &geomath.Point{Lat: lat, Lng: lng}
			}
			logger.L().Debug("iploc_online_done", "ip", ip, "city", res.City, "has_center", res.Center != nil)
			return res, nil
		}
		metrics.IPLocateFailTotal.WithLabelValues("amap").Inc()
		logger.L().Warn("iploc_online_error", "ip", ip, "err", err)
	}
	return s.locateLocal(ip)
}

func (s *Service) locateLocal(ip string) (*Result, error) {
	if s.mmdb == nil {
		return nil, ErrUnavailable
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, errors.New("iploc: bad ip")
	}
	metrics.IPLocateTotal.WithLabelValues("geolite2").Inc()
	rec, err := s.mmdb.City(parsed)
	if err != nil {
		metrics.IPLocateFailTotal.WithLabelValues("geolite2").Inc()
		return nil, err
	}
	res := &Result{City: rec.City.Names["zh-CN"]}
	if res.City == "" {
		res.City = rec.City.Names["en"]
	}
	if len(rec.Subdivisions) > 0 {
		res.Province = rec.Subdivisions[0].Names["zh-CN"]
		if res.Province == "" {
			res.Province = rec.Subdivisions[0].Names["en"]
		}
	}
	if rec.Location.Latitude != 0 || rec.Location.Longitude != 0 {
		res.Center = &geomath.Point{Lat: rec.Location.Latitude, Lng: rec.Location.Longitude}
	}
	logger.L().Debug("iploc_local_done", "ip", ip, "city", res.City, "has_center", res.Center != nil)
	return res, nil
}

// Close：释放本地库句柄
func (s *Service) Close() error {
	if s.mmdb != nil {
		return s.mmdb.Close()
	}
	return nil
}
