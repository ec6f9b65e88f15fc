// 访问日志中间件：统一记录方法、路径、状态、耗时与字节数，便于排查慢请求
package logger

import (
	"log/slog"
	"net/http"
	"time"

	"gourmet-log/internal/metrics"
)

// statusWriter：包装 ResponseWriter 捕获状态码与写出字节数（标准库不暴露已写状态）
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// AccessMiddleware：生成访问日志中间件
// 约束：不读取请求体；远端地址取 RemoteAddr，反向代理场景由业务层结合真实 IP 头处理
func AccessMiddleware(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: 200}
			start := time.Now()
			next.ServeHTTP(sw, r)
			elapsed := time.Since(start)
			metrics.RequestDurationMs.Observe(float64(elapsed.Milliseconds()))
			l.Debug("http_access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"bytes", sw.bytes,
				"duration_ms", elapsed.Milliseconds(),
				"ip", r.RemoteAddr,
			)
		})
	}
}
