// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"gourmet-log/internal/ai"
	"gourmet-log/internal/amap"
	"gourmet-log/internal/api"
	"gourmet-log/internal/ingest"
	"gourmet-log/internal/iploc"
	"gourmet-log/internal/logger"
	"gourmet-log/internal/metrics"
	"gourmet-log/internal/middleware"
	"gourmet-log/internal/migrate"
	"gourmet-log/internal/origin"
	"gourmet-log/internal/store"
	"gourmet-log/internal/trip"
	"gourmet-log/internal/utils"
	"gourmet-log/internal/version"
)

// selfLocator：把 IP 定位服务绑定到本机出口 IP
// 背景：应用单租户本地部署，服务端出口 IP 即用户 IP，高德按请求来源定位
type selfLocator struct {
	svc *iploc.Service
}

func (s selfLocator) Locate(ctx context.Context) (*iploc.Result, error) {
	return s.svc.Locate(ctx, "")
}

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok", "commit", version.Commit)
	apiBase := os.Getenv("API_BASE")
	if apiBase == "" {
		apiBase = "/api"
	}
	l.Debug("config_api_base", "base", apiBase)

	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		l.Error("db_ping_error", "err", err)
	} else {
		l.Info("db_ping_ok")
	}
	st := store.AttachDB(db)
	if err := migrate.EnsureSchema(db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else if err := rc.Ping(context.Background()).Err(); err != nil {
		l.Error("redis_ping_error", "err", err)
	} else {
		l.Info("redis_ping_ok")
	}

	amapKey := os.Getenv("AMAP_SERVER_KEY")
	if amapKey == "" {
		l.Warn("amap_key_missing", "effect", "位置匹配与 IP 在线定位不可用")
	}
	geocoder := amap.NewClient(amapKey, &http.Client{Timeout: 5 * time.Second}, amap.NewRedisCache(rc))

	var online iploc.AmapLocator
	if amapKey != "" {
		online = geocoder
	}
	ipSvc := iploc.New(online)
	defer ipSvc.Close()

	aiClient := ai.NewFromEnv()
	if aiClient == nil {
		l.Warn("openai_key_missing", "effect", "AI 提取与规划不可用")
	}
	var extractor ingest.Extractor
	if aiClient != nil {
		extractor = aiClient
	}
	ingestSvc := ingest.New(extractor, nil)

	resolver := origin.NewResolver(geocoder, selfLocator{svc: ipSvc})
	var planAI trip.PlanAI
	if aiClient != nil {
		planAI = aiClient
	}
	session := trip.NewSession(resolver, st, planAI, st)

	// 启动时机会性预取 IP 定位；只进被动缓存，失败无感
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		resolver.PrefetchIP(ctx)
	}()

	mux := http.NewServeMux()
	apiMux := api.BuildRoutes(api.Deps{
		Store:    st,
		Redis:    rc,
		Geocoder: geocoder,
		IPLoc:    ipSvc,
		AI:       aiClient,
		Ingest:   ingestSvc,
		Session:  session,
	})
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, apiMux))
	mux.Handle(apiBase+"/metrics", metrics.Handler())

	ui := os.Getenv("UI_DIST")
	if ui == "" {
		ui = filepath.Join("ui", "dist")
	}
	mux.Handle("/", http.FileServer(http.Dir(ui)))

	// NOTE: 向前端暴露 API 基础路径，避免硬编码
	mux.HandleFunc("/config.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/javascript; charset=utf-8")
		w.Header().Set("cache-control", "no-store")
		_, _ = w.Write([]byte("window.__API_BASE__='" + apiBase + "'"))
		_, _ = w.Write([]byte("\n"))
		_, _ = w.Write([]byte("window.__COMMIT_SHA__='" + version.Commit + "'"))
	})

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	s := &http.Server{Addr: addr, Handler: handler}
	if os.Getenv("TLS_ENABLE") == "true" {
		certPath := os.Getenv("TLS_CERT_PATH")
		keyPath := os.Getenv("TLS_KEY_PATH")
		if certPath == "" {
			certPath = filepath.Join("data", "certs", "server.crt")
		}
		if keyPath == "" {
			keyPath = filepath.Join("data", "certs", "server.key")
		}
		_ = utils.EnsureSelfSignedCert(certPath, keyPath, "gourmet-log.local")
		l.Info("listening_tls", "addr", addr, "cert", certPath)
		_ = s.ListenAndServeTLS(certPath, keyPath)
		return
	}
	l.Info("listening", "addr", addr)
	_ = s.ListenAndServe()
}
