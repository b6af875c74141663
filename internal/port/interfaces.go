package port

import (
	"context"

	"github-opportunity-scraper/internal/domain"
)

// RepoSearchQuery 仓库搜索条件
type RepoSearchQuery struct {
	Language string // 为空则不限语言
	MinStars int
	Sort     string // stars / forks / updated
	Limit    int    // 最多返回多少个通过筛选的仓库
}

// IssueFilter Issue 抓取条件
type IssueFilter struct {
	Labels       []string // 为空则不带 label 过滤跑一遍
	State        string   // open / closed / all
	MinReactions int
	MinComments  int
	MaxIssues    int // 单仓库抓取上限
}

// Scouter (侦察兵): 负责从 GitHub 发现仓库和 Issue
// 限流错误必须归一化为 common.ErrCodeRateLimit，上层据此决定是否终止整轮
type Scouter interface {
	// SearchRepositories 按星标/语言搜索仓库，内部跳过缓存命中和非工具仓库
	SearchRepositories(ctx context.Context, query RepoSearchQuery) ([]*domain.Repository, error)

	// GetRepository 按 "owner/repo" 精确查找单个仓库
	GetRepository(ctx context.Context, fullName string) (*domain.Repository, error)

	// FetchIssues 抓取单个仓库下符合条件的 Issue
	FetchIssues(ctx context.Context, repo *domain.Repository, filter IssueFilter) ([]*domain.Issue, error)
}

// Appraiser (鉴定师): 调用 LLM 给 Issue 打商业机会分
type Appraiser interface {
	// AnalyzeIssue 返回 (nil, nil) 表示模型没有给出可解析的结论，调用方按"无意见"跳过
	AnalyzeIssue(ctx context.Context, issue *domain.Issue) (*domain.Analysis, error)
}

// SearchedCache 已扫描仓库集合，跨运行去重
type SearchedCache interface {
	IsSearched(repoFullName string) bool

	// MarkSearched 加入集合并立即落盘
	MarkSearched(repoFullName string) error
}

// OpportunityStore 结果存储：两种表示（JSON 结构化 / CSV 扁平化）按键合并写入
type OpportunityStore interface {
	WriteJSON(issues []*domain.Issue, analyses []*domain.Analysis, sortBy string) error
	WriteCSV(issues []*domain.Issue, analyses []*domain.Analysis, sortBy string) error
}

// Archiver 可选的数据库归档，文件才是主存储，归档失败不影响主流程
type Archiver interface {
	Save(ctx context.Context, opp *domain.Opportunity) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Notifier (信使): 扫描结束后推送一条摘要消息，尽力而为
type Notifier interface {
	Notify(ctx context.Context, message string) error
}
