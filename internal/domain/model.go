package domain

import (
	"fmt"
	"strings"
	"time"
)

// Repository 代表一个待扫描的开源仓库（抓取后不可变的快照）
type Repository struct {
	Name        string `json:"name"`      // 仓库短名，例如 "react"
	FullName    string `json:"full_name"` // "owner/repo" 形式的唯一标识
	URL         string `json:"url"`
	Description string `json:"description"`
	Stars       int    `json:"stars"`
	Archived    bool   `json:"archived"`
}

// excludedRepoKeywords 命中任意一个关键词就认为不是工具仓库
// 主要拦截文档、课程、awesome 清单、面试题这类没有可挖 Issue 的仓库
var excludedRepoKeywords = []string{
	"awesome",
	"course",
	"courses",
	"bootcamp",
	"boot camp",
	"curriculum",
	"tutorial",
	"tutorials",
	"tutorial-code",
	"docs",
	"documentation",
	"guide",
	"guides",
	"handbook",
	"roadmap",
	"roadmaps",
	"learning",
	"learn-",
	"learn ",
	"interview",
	"coding-interview",
	"coding interview",
	"cheatsheet",
	"cheat-sheet",
	"book",
	"microsoft-activation-scripts",
	"bootstrap",
	"books",
	"ebook",
	"ebooks",
	"syllabus",
	"boot.dev",
	"codecrafters",
	"freecodecamp",
	"system-design-primer",
	"free-programming",
	"developer-roadmap",
}

// IsTool 判断仓库是不是真正的工具/产品型项目
//
// 纯函数：把仓库全名和描述拼起来转小写做子串匹配，命中关键词或已归档即拒绝。
// 注意是子串匹配而不是整词匹配，"learning-rust" 这种编译器项目也会被误杀，
// 这是有意保留的行为，改成整词匹配会改变扫描范围。
func (r *Repository) IsTool() bool {
	text := strings.ToLower(r.FullName + " " + r.Description)

	for _, keyword := range excludedRepoKeywords {
		if strings.Contains(text, keyword) {
			return false
		}
	}

	return !r.Archived
}

// Issue 代表一条 GitHub Issue，以 (仓库全名, Issue 编号) 唯一标识
type Issue struct {
	Repo         string    `json:"repo"`
	RepoFullName string    `json:"repo_full_name"`
	IssueNumber  int       `json:"issue_number"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	URL          string    `json:"url"`
	Labels       []string  `json:"labels"`
	Reactions    int       `json:"reactions"`
	Comments     int       `json:"comments"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	State        string    `json:"state"`
	Author       string    `json:"author"`
}

// Key 返回合并去重用的唯一键，形如 "owner/repo#123"
func (i *Issue) Key() string {
	return fmt.Sprintf("%s#%d", i.RepoFullName, i.IssueNumber)
}

// Analysis 是 AI 对单条 Issue 的商业机会评估结果
//
// 四个子评分均限定在 [1,10]，TotalScore 恒等于四项之和 [4,40]。
// 外部模型返回的 total_score 不可信，入库前必须调用 RecomputeTotalScore。
type Analysis struct {
	// 市场潜力 (1-10)：多少开发者/公司面临这个问题
	MarketPotential int `json:"market_potential"`

	// 技术可行性 (1-10)：能否做成独立工具/产品
	TechnicalFeasibility int `json:"technical_feasibility"`

	// 竞争格局 (1-10)：10 = 没有现成方案，1 = 红海
	Competition int `json:"competition"`

	// 变现契合度 (1-10)：适不适合 SaaS/付费工具模式
	MonetizationFit int `json:"monetization_fit"`

	// 四项之和，派生字段
	TotalScore int `json:"total_score"`

	// 两三句话的机会分析
	OpportunitySummary string `json:"opportunity_summary"`

	// 高分时给出的产品建议（可选）
	ProductIdea string `json:"product_idea,omitempty"`

	// 低分时说明为什么不值得做（可选）
	SkipReason string `json:"skip_reason,omitempty"`
}

// RecomputeTotalScore 用四个子评分重新计算 TotalScore
// 无条件覆盖模型返回的值：不管模型漏填还是算错，这里都以确定性结果为准
func (a *Analysis) RecomputeTotalScore() {
	a.TotalScore = a.MarketPotential + a.TechnicalFeasibility + a.Competition + a.MonetizationFit
}

// Opportunity 是最终落盘的记录：Issue + 评估结果 + 抓取时间
type Opportunity struct {
	Issue     Issue     `json:"issue"`
	Analysis  Analysis  `json:"ai_analysis"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// Key 返回持久化合并用的唯一键，与 Issue.Key 一致
func (o *Opportunity) Key() string {
	return o.Issue.Key()
}
