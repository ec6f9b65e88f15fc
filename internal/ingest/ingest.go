// 包 ingest：把分享文本或链接变成结构化餐厅字段
// 背景：链接抓取发生在服务端，必须挡住内网地址探测；正文抽取只要纯文本，
// 截断后交给 AI 提取，页面再长也不放大成本
package ingest

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"gourmet-log/internal/ai"
	"gourmet-log/internal/logger"
)

const (
	fetchUserAgent = "GourmetLogBot/1.0"
	maxFetchBytes  = 256 << 10
	maxPlainChars  = 4000
)

var errNoExtractor = errors.New("未配置 OpenAI 密钥，无法提取")

// Extractor：AI 提取依赖
type Extractor interface {
	ExtractFromText(ctx context.Context, text string) (*ai.ExtractResult, error)
}

type Service struct {
	hc        *http.Client
	extractor Extractor
}

func New(extractor Extractor, hc *http.Client) *Service {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Service{hc: hc, extractor: extractor}
}

// FromText：分享文本直接走 AI 提取
func (s *Service) FromText(ctx context.Context, text string) (*ai.ExtractResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("分享文本不能为空")
	}
	if s.extractor == nil {
		return nil, errNoExtractor
	}
	return s.extractor.ExtractFromText(ctx, text)
}

// FromURL：抓取页面正文后走 AI 提取
func (s *Service) FromURL(ctx context.Context, raw string) (*ai.ExtractResult, error) {
	u, err := NormalizeURL(raw)
	if err != nil {
		return nil, err
	}
	if !IsSafeURL(u) {
		return nil, errors.New("该链接不允许抓取")
	}
	if s.extractor == nil {
		return nil, errNoExtractor
	}
	text, err := s.fetchPageText(ctx, u.String())
	if err != nil {
		return nil, err
	}
	logger.L().Debug("ingest_page_fetched", "host", u.Hostname(), "chars", len(text))
	return s.extractor.ExtractFromText(ctx, text)
}

// NormalizeURL：补全协议并校验 URL 格式
func NormalizeURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("链接不能为空")
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Hostname() == "" {
		return nil, errors.New("链接格式无效")
	}
	return u, nil
}

// IsSafeURL：拒绝非 http(s) 协议与指向本机/内网的主机名
// 约束：仅做字面判断，不做 DNS 解析（重定向后的地址由 http.Client 策略兜底）
func IsSafeURL(u *url.URL) bool {
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".local") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return false
		}
	}
	return true
}

var spacePattern = regexp.MustCompile(`\s+`)

func (s *Service) fetchPageText(ctx context.Context, u string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	resp, err := s.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.New("页面抓取失败: " + resp.Status)
	}
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()
	text := spacePattern.ReplaceAllString(doc.Text(), " ")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("页面没有可提取的正文")
	}
	runes := []rune(text)
	if len(runes) > maxPlainChars {
		text = string(runes[:maxPlainChars])
	}
	return text, nil
}
