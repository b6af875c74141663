package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github-opportunity-scraper/internal/common"
	"github-opportunity-scraper/internal/domain"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// systemPrompt 四维评分规则，要求模型按 Analysis 的结构返回 JSON
const systemPrompt = `You are an expert software business analyst specializing in identifying
market opportunities from open source project issues and feature requests.

Your task is to analyze GitHub issues and determine if they represent a viable
business opportunity - something that could be built as a standalone product or SaaS.

For each issue, evaluate:
1. MARKET_POTENTIAL (1-10): How many developers/companies face this problem?
2. TECHNICAL_FEASIBILITY (1-10): Can this be built as a standalone tool/product?
3. COMPETITION (1-10): 10 = no existing solutions, 1 = saturated market
4. MONETIZATION_FIT (1-10): How suitable for SaaS/paid tool model?

Consider:
- Issue engagement (reactions, comments) indicates real demand
- Recurring themes across repos suggest market gaps
- Complex integrations often deter existing solutions
- Developer tooling and automation have strong SaaS potential

Be critical - most issues are NOT business opportunities. Only high-scoring
issues (total >= 25/40) are worth pursuing.

Return your analysis as JSON with the fields market_potential,
technical_feasibility, competition, monetization_fit, opportunity_summary,
product_idea and skip_reason.`

// Issue 正文截断长度，防止 Prompt 过长
const maxBodyExcerpt = 2000

// Options 评分网关配置
type Options struct {
	Model             string
	FallbackModel     string
	Temperature       float32
	RequestsPerMinute int
}

// GeminiAppraiser 实现了 port.Appraiser 接口
//
// 限流靠令牌桶：速率 60s/RPM、桶容量 1，Wait 会阻塞到与上一次请求
// 拉开最小间隔为止（按请求开始时刻计）。主模型和后备模型共用同一个桶。
type GeminiAppraiser struct {
	client       *genai.Client
	primary      *genai.GenerativeModel
	fallback     *genai.GenerativeModel // nil 表示没有配置独立的后备模型
	primaryName  string
	fallbackName string
	limiter      *rate.Limiter
}

// 定义一个内部结构体来接收 AI 返回的 JSON
// 故意不解析 total_score：外部返回的值不可信，一律本地重算
type aiResponse struct {
	MarketPotential      int    `json:"market_potential"`
	TechnicalFeasibility int    `json:"technical_feasibility"`
	Competition          int    `json:"competition"`
	MonetizationFit      int    `json:"monetization_fit"`
	OpportunitySummary   string `json:"opportunity_summary"`
	ProductIdea          string `json:"product_idea"`
	SkipReason           string `json:"skip_reason"`
}

// NewGeminiAppraiser 创建评分网关
func NewGeminiAppraiser(ctx context.Context, apiKey string, opts Options) (*GeminiAppraiser, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 12
	}
	interval := time.Minute / time.Duration(opts.RequestsPerMinute)

	g := &GeminiAppraiser{
		client:      client,
		primary:     newModel(client, opts.Model, opts.Temperature),
		primaryName: opts.Model,
		limiter:     rate.NewLimiter(rate.Every(interval), 1),
	}
	if opts.FallbackModel != "" && opts.FallbackModel != opts.Model {
		g.fallback = newModel(client, opts.FallbackModel, opts.Temperature)
		g.fallbackName = opts.FallbackModel
	}
	return g, nil
}

func newModel(client *genai.Client, name string, temperature float32) *genai.GenerativeModel {
	model := client.GenerativeModel(name)
	// 强制要求返回 JSON，降低解析错误的概率
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(temperature)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	model.ResponseSchema = analysisSchema()
	return model
}

// analysisSchema 告诉模型返回值的形状
func analysisSchema() *genai.Schema {
	score := &genai.Schema{Type: genai.TypeInteger}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"market_potential":      score,
			"technical_feasibility": score,
			"competition":           score,
			"monetization_fit":      score,
			"opportunity_summary":   {Type: genai.TypeString},
			"product_idea":          {Type: genai.TypeString},
			"skip_reason":           {Type: genai.TypeString},
		},
		Required: []string{
			"market_potential",
			"technical_feasibility",
			"competition",
			"monetization_fit",
			"opportunity_summary",
		},
	}
}

// AnalyzeIssue 给单条 Issue 打分
//
// 状态机：主模型一次 → 非限流错误且配了后备模型时再试一次 → 仍失败返回错误。
// 两侧的限流错误都归一化成 ErrCodeRateLimit，不会走后备模型。
// 返回 (nil, nil) 表示模型没有给出可解析的结论。
func (g *GeminiAppraiser) AnalyzeIssue(ctx context.Context, issue *domain.Issue) (*domain.Analysis, error) {
	prompt := buildPrompt(issue)

	analysis, err := g.generate(ctx, g.primary, prompt)
	if err == nil {
		return analysis, nil
	}
	if common.IsRateLimit(err) || g.fallback == nil {
		return nil, err
	}

	log.Printf("⚠️ 主模型 %s 分析 %s 失败: %v，改用后备模型 %s", g.primaryName, issue.Key(), err, g.fallbackName)

	analysis, err = g.generate(ctx, g.fallback, prompt)
	if err != nil {
		return nil, err
	}
	return analysis, nil
}

func (g *GeminiAppraiser) generate(ctx context.Context, model *genai.GenerativeModel, prompt string) (*domain.Analysis, error) {
	// 先过限流器再发请求，间隔按请求开始时刻计算
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, g.classify(err)
	}

	return parseResponse(resp), nil
}

// classify 把 Gemini 的错误归一化成应用错误码
func (g *GeminiAppraiser) classify(err error) error {
	if isRateLimitErr(err) {
		return common.WrapError(common.ErrCodeRateLimit, "Gemini 配额耗尽", err)
	}
	return common.WrapError(common.ErrCodeAIProcessing, "Gemini 调用失败", err)
}

// isRateLimitErr 探测限流错误
//
// Gemini 的限流错误形态不统一：有时是 HTTP 429，有时只能靠消息里的
// RESOURCE_EXHAUSTED / quota 关键词，这里多探几种，宁可误杀不可漏判。
func isRateLimitErr(err error) bool {
	if err == nil {
		return false
	}

	var gae *googleapi.Error
	if errors.As(err, &gae) && gae.Code == http.StatusTooManyRequests {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, keyword := range []string{
		"rate limit",
		"quota",
		"resource_exhausted",
		"resource has been exhausted",
		"error 429",
	} {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}

// parseResponse 从候选里抠出 JSON 并转成 Analysis，抠不出来返回 nil（无意见）
func parseResponse(resp *genai.GenerateContentResponse) *domain.Analysis {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		log.Println("⚠️ AI 返回内容为空")
		return nil
	}

	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		log.Println("⚠️ AI 返回格式不是文本")
		return nil
	}
	rawContent := string(text)

	// 即使 AI 返回 "```json { ... } ```"，也能精准抠出中间的 { ... }
	start := strings.Index(rawContent, "{")
	end := strings.LastIndex(rawContent, "}")
	if start == -1 || end == -1 || end <= start {
		log.Printf("⚠️ 无法从 AI 返回中提取 JSON: %s", rawContent)
		return nil
	}

	var res aiResponse
	if err := json.Unmarshal([]byte(rawContent[start:end+1]), &res); err != nil {
		log.Printf("⚠️ AI 返回的 JSON 解析失败: %v | 原文: %s", err, rawContent)
		return nil
	}

	analysis := &domain.Analysis{
		MarketPotential:      res.MarketPotential,
		TechnicalFeasibility: res.TechnicalFeasibility,
		Competition:          res.Competition,
		MonetizationFit:      res.MonetizationFit,
		OpportunitySummary:   res.OpportunitySummary,
		ProductIdea:          res.ProductIdea,
		SkipReason:           res.SkipReason,
	}
	// 入口处重算派生字段，不信任模型给的 total_score
	analysis.RecomputeTotalScore()
	return analysis
}

func buildPrompt(issue *domain.Issue) string {
	return fmt.Sprintf(`Analyze this GitHub issue:

Repository: %s
Issue #%d: %s

Description:
%s

Engagement Metrics:
- Reactions: %d
- Comments: %d
- Labels: %s
- Created: %s
- Last Updated: %s

URL: %s

Analyze this issue and provide scores for market potential, technical feasibility,
competition, and monetization fit. Be honest - most issues are NOT business opportunities.`,
		issue.RepoFullName,
		issue.IssueNumber, issue.Title,
		truncate(issue.Body, maxBodyExcerpt),
		issue.Reactions,
		issue.Comments,
		strings.Join(issue.Labels, ", "),
		issue.CreatedAt.Format("2006-01-02"),
		issue.UpdatedAt.Format("2006-01-02"),
		issue.URL)
}

// truncate 按字符（rune）截断，避免把多字节字符切成半个
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
