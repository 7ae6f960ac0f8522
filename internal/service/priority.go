package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PriorityLevel 是远端评分模型输出的优先级档位
type PriorityLevel string

const (
	PriorityCritical PriorityLevel = "critical"
	PriorityMedium   PriorityLevel = "medium"
	PriorityLow      PriorityLevel = "low"
)

// PriorityResult 是一次评分结果
type PriorityResult struct {
	Priority PriorityLevel `json:"priority"`
	Reason   string        `json:"reason"`
}

// defaultPriorityReason 在评分服务不可用时兜底展示
const defaultPriorityReason = "优先级服务暂不可用，按中等处理"

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// PriorityClient 调用远端的不透明评分服务
// 评分失败只记日志并回退到 medium，绝不把错误当作致命问题抛给界面
type PriorityClient struct {
	http    httpDoer
	baseURL string
}

// NewPriorityClient 构造评分客户端；baseURL 为空表示未配置评分服务
func NewPriorityClient(baseURL string) *PriorityClient {
	return &PriorityClient{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}
}

// SetHTTPClient 注入自定义 HTTP 客户端，测试用
func (c *PriorityClient) SetHTTPClient(client httpDoer) {
	if client == nil {
		c.http = &http.Client{Timeout: 10 * time.Second}
		return
	}
	c.http = client
}

// Fetch 获取模板在指定日期的优先级评分
// 任何失败（未配置、网络错误、响应不合法）都降级为 medium + 通用理由
func (c *PriorityClient) Fetch(ctx context.Context, templateID uint, date time.Time) PriorityResult {
	fallback := PriorityResult{Priority: PriorityMedium, Reason: defaultPriorityReason}

	if c.baseURL == "" {
		return fallback
	}

	endpoint := fmt.Sprintf("%s/priority?template_id=%d&date=%s",
		c.baseURL, templateID, url.QueryEscape(date.Format(dateLayout)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		log.Printf("priority request build failed: %v", err)
		return fallback
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Printf("priority fetch for template %d failed: %v", templateID, err)
		return fallback
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("priority fetch for template %d returned status %d", templateID, resp.StatusCode)
		return fallback
	}

	var result PriorityResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Printf("priority response decode failed: %v", err)
		return fallback
	}

	switch result.Priority {
	case PriorityCritical, PriorityMedium, PriorityLow:
	default:
		return fallback
	}

	if strings.TrimSpace(result.Reason) == "" {
		result.Reason = defaultPriorityReason
	}
	return result
}
