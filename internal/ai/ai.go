// 包 ai：OpenAI 兼容接口封装，提供行程规划与分享文本信息提取
// 背景：模型被当作不透明协作方，只约定 JSON 请求/响应契约；缺字段按默认值处理，不视为错误
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"gourmet-log/internal/logger"
	"gourmet-log/internal/metrics"
)

const maxRetries = 2

type Client struct {
	cli   *openai.Client
	model string
}

// NewFromEnv：从环境变量构建客户端；未配置密钥时返回 nil，调用方按“AI 不可用”降级
func NewFromEnv() *Client {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil
	}
	cfg := openai.DefaultConfig(key)
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		cfg.BaseURL = base
	}
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = openai.GPT4o
	}
	return &Client{cli: openai.NewClientWithConfig(cfg), model: model}
}

// PlanSpot：规划请求中的单个候选餐厅；只带模型需要的字段以控制成本
type PlanSpot struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	AddressText string   `json:"address_text,omitempty"`
	Taste       string   `json:"taste,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	DistanceKm  *float64 `json:"distance_km,omitempty"`
}

// PlanResult：规划响应；order 可以是候选 id 的子集或排列，缺省表示不调整顺序
type PlanResult struct {
	Title   string  `json:"title"`
	Summary string  `json:"summary"`
	Order   []int64 `json:"order,omitempty"`
}

const planSystemPrompt = `你是美食行程规划助手。根据用户的规划需求和候选餐厅列表（含与出发点的距离），
给出一个合理的到访顺序，并起一个简短标题与不超过 50 字的说明。

以 JSON 格式返回：
{
  "title": "标题",
  "summary": "说明",
  "order": [餐厅id, ...]
}

约束：
- order 只能使用候选列表里出现过的 id，可以是子集；
- 距离近的优先，除非需求另有偏好；
- 请只返回 JSON，不要包含其他解释。`

// GeneratePlan：需求 + 候选 → {标题, 说明, 顺序}
func (c *Client) GeneratePlan(ctx context.Context, intent string, spots []PlanSpot) (*PlanResult, error) {
	if c == nil {
		return nil, errors.New("ai: 未配置 OPENAI_API_KEY")
	}
	payload, err := json.Marshal(map[string]any{"intent": intent, "spots": spots})
	if err != nil {
		return nil, err
	}
	content, err := c.chat(ctx, "plan", []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: planSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: string(payload)},
	}, 1000)
	if err != nil {
		return nil, err
	}
	var res PlanResult
	if err := json.Unmarshal([]byte(stripFences(content)), &res); err != nil {
		logger.L().Error("ai_plan_parse_error", "err", err)
		return nil, errors.New("ai: 规划响应不是合法 JSON")
	}
	logger.L().Debug("ai_plan_done", "title", res.Title, "order_len", len(res.Order))
	return &res, nil
}

// ExtractResult：从分享文本提取出的结构化餐厅信息
type ExtractResult struct {
	Name        string   `json:"name"`
	AddressText string   `json:"address_text,omitempty"`
	Price       int      `json:"price,omitempty"`
	Rating      float64  `json:"rating,omitempty"`
	Dishes      []string `json:"dishes,omitempty"`
	Vibe        string   `json:"vibe,omitempty"`
	Summary     string   `json:"summary"`
}

const extractSystemPrompt = `你是一个专业的美食信息解析助手。请从分享文本中提取餐厅信息，以 JSON 格式返回。

必须提取的字段：
- name: 餐厅名称（必填）
- address_text: 地址文本（可选）
- price: 人均价格（可选，整数）
- rating: 评分（可选，1-5之间的小数）
- dishes: 提到的菜品（可选，字符串数组）
- vibe: 氛围或体验（可选）
- summary: AI 生成的总结，必须少于 20 个汉字，使用讽刺或简洁的风格

请只返回 JSON，不要包含其他解释。`

// ExtractFromText：分享文本 → 结构化餐厅字段
func (c *Client) ExtractFromText(ctx context.Context, text string) (*ExtractResult, error) {
	if c == nil {
		return nil, errors.New("ai: 未配置 OPENAI_API_KEY")
	}
	content, err := c.chat(ctx, "extract", []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: extractSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: text},
	}, 500)
	if err != nil {
		return nil, err
	}
	var res ExtractResult
	if err := json.Unmarshal([]byte(stripFences(content)), &res); err != nil {
		logger.L().Error("ai_extract_parse_error", "err", err)
		return nil, errors.New("ai: 提取响应不是合法 JSON")
	}
	if res.Name == "" {
		return nil, errors.New("ai: 提取结果缺少餐厅名称")
	}
	return &res, nil
}

// chat：带指数退避重试的单次补全调用
func (c *Client) chat(ctx context.Context, op string, msgs []openai.ChatCompletionMessage, maxTokens int) (string, error) {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			delay := time.Duration(1<<uint(i-1)) * time.Second
			logger.L().Warn("ai_retry", "op", op, "attempt", i, "delay_ms", delay.Milliseconds(), "err", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		t0 := time.Now()
		metrics.AIRequestsTotal.WithLabelValues(op).Inc()
		resp, err := c.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:     c.model,
			Messages:  msgs,
			MaxTokens: maxTokens,
		})
		metrics.AIDurationMs.WithLabelValues(op).Observe(float64(time.Since(t0).Milliseconds()))
		if err != nil {
			metrics.AIFailTotal.WithLabelValues(op).Inc()
			lastErr = err
			continue
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
			metrics.AIFailTotal.WithLabelValues(op).Inc()
			lastErr = errors.New("ai: 模型未返回内容")
			continue
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("ai: %s 调用失败: %w", op, lastErr)
}

// stripFences：去掉模型偶发包裹的 ``` 代码栅栏
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
