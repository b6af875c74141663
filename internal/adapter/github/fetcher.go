package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github-opportunity-scraper/internal/common"
	"github-opportunity-scraper/internal/domain"
	"github-opportunity-scraper/internal/port"

	"github.com/google/go-github/v53/github"
	"golang.org/x/oauth2"
)

const searchPageSize = 50

// Fetcher 实现了 port.Scouter 接口
type Fetcher struct {
	client *github.Client
	cache  port.SearchedCache
	delay  time.Duration // 每处理一条结果后的礼貌延迟
}

// NewFetcher 初始化 GitHub 客户端
// token 为空则匿名访问（限制 60 次/小时），cache 用于搜索时跳过已扫描仓库
func NewFetcher(token string, cache port.SearchedCache, delay time.Duration) *Fetcher {
	var client *github.Client

	if token == "" {
		client = github.NewClient(nil)
	} else {
		ctx := context.Background()
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc := oauth2.NewClient(ctx, ts)
		client = github.NewClient(tc)
	}

	return &Fetcher{client: client, cache: cache, delay: delay}
}

// ReportQuota 查询并打印当前剩余配额，拿不到就只警告不报错
func (f *Fetcher) ReportQuota(ctx context.Context) {
	limits, _, err := f.client.RateLimits(ctx)
	if err != nil || limits.GetCore() == nil {
		fmt.Println("⚠️ 无法读取 GitHub 配额信息，继续执行")
		return
	}

	core := limits.GetCore()
	if core.Remaining < 100 {
		fmt.Printf("⚠️ GitHub 配额只剩 %d 次，%s 重置\n", core.Remaining, core.Reset.Format("15:04:05"))
	} else {
		fmt.Printf("✅ GitHub 配额剩余 %d 次\n", core.Remaining)
	}
}

// SearchRepositories 按星标/语言搜索仓库
// 翻页直到凑够 limit 个通过筛选的仓库：缓存命中和非工具仓库都在翻页过程中跳过
func (f *Fetcher) SearchRepositories(ctx context.Context, q port.RepoSearchQuery) ([]*domain.Repository, error) {
	query := fmt.Sprintf("stars:>=%d", q.MinStars)
	if q.Language != "" {
		query += fmt.Sprintf(" language:%s", q.Language)
	}
	fmt.Printf("🔍 GitHub 搜索: %s\n", query)

	opts := &github.SearchOptions{
		Sort:  q.Sort,
		Order: "desc",
		ListOptions: github.ListOptions{
			PerPage: searchPageSize,
		},
	}

	var repos []*domain.Repository
	skipped, cached := 0, 0

	for {
		var result *github.RepositoriesSearchResult
		var resp *github.Response
		err := f.doWithRetry(ctx, func() error {
			var apiErr error
			result, resp, apiErr = f.client.Search.Repositories(ctx, query, opts)
			return apiErr
		})
		if err != nil {
			return nil, f.classify("搜索仓库", err)
		}

		for _, item := range result.Repositories {
			if len(repos) >= q.Limit {
				break
			}

			repo := toRepository(item)
			if f.cache != nil && f.cache.IsSearched(repo.FullName) {
				cached++
				continue
			}
			if !repo.IsTool() {
				skipped++
				continue
			}

			repos = append(repos, repo)
			f.sleep()
		}

		if len(repos) >= q.Limit || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if cached > 0 {
		fmt.Printf("⏭️ 跳过 %d 个已扫描过的仓库（缓存命中）\n", cached)
	}
	if skipped > 0 {
		fmt.Printf("⏭️ 跳过 %d 个疑似文档/课程/清单类仓库\n", skipped)
	}
	fmt.Printf("✅ 选中 %d 个工具仓库\n", len(repos))

	return repos, nil
}

// GetRepository 按 "owner/repo" 精确查找单个仓库
func (f *Fetcher) GetRepository(ctx context.Context, fullName string) (*domain.Repository, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, common.NewError(common.ErrCodeInvalidInput, fmt.Sprintf("仓库名格式不正确: %s", fullName))
	}

	var repo *github.Repository
	err := f.doWithRetry(ctx, func() error {
		var apiErr error
		repo, _, apiErr = f.client.Repositories.Get(ctx, parts[0], parts[1])
		return apiErr
	})
	if err != nil {
		return nil, f.classify(fmt.Sprintf("查找仓库 %s", fullName), err)
	}

	f.sleep()
	return toRepository(repo), nil
}

// FetchIssues 抓取单个仓库下符合条件的 Issue
// 每个 label 跑一轮搜索，轮与轮之间按 Issue 编号去重，凑够上限即停
func (f *Fetcher) FetchIssues(ctx context.Context, repo *domain.Repository, filter port.IssueFilter) ([]*domain.Issue, error) {
	fmt.Printf("📥 正在抓取 %s 的 Issue...\n", repo.FullName)

	labels := filter.Labels
	if len(labels) == 0 {
		labels = []string{""}
	}

	seen := make(map[int]bool)
	var issues []*domain.Issue

	for _, label := range labels {
		if len(issues) >= filter.MaxIssues {
			break
		}

		queryParts := []string{
			fmt.Sprintf("repo:%s", repo.FullName),
			"is:issue",
			fmt.Sprintf("state:%s", filter.State),
		}
		if label != "" {
			queryParts = append(queryParts, fmt.Sprintf("label:%q", label))
		}
		query := strings.Join(queryParts, " ")

		opts := &github.SearchOptions{
			ListOptions: github.ListOptions{
				PerPage: searchPageSize,
			},
		}

	pages:
		for {
			var result *github.IssuesSearchResult
			var resp *github.Response
			err := f.doWithRetry(ctx, func() error {
				var apiErr error
				result, resp, apiErr = f.client.Search.Issues(ctx, query, opts)
				return apiErr
			})
			if err != nil {
				return nil, f.classify(fmt.Sprintf("搜索 %s 的 Issue", repo.FullName), err)
			}

			for _, item := range result.Issues {
				if len(issues) >= filter.MaxIssues {
					break pages
				}

				number := item.GetNumber()
				if seen[number] {
					continue
				}

				reactions := item.GetReactions().GetTotalCount()
				comments := item.GetComments()
				if reactions < filter.MinReactions || comments < filter.MinComments {
					continue
				}

				issues = append(issues, toIssue(repo, item, reactions))
				seen[number] = true
				f.sleep()
			}

			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
	}

	fmt.Printf("✅ 从 %s 抓到 %d 条 Issue\n", repo.FullName, len(issues))
	return issues, nil
}

// doWithRetry 包一层重试：普通网络抖动值得重试，限流错误直接放弃
func (f *Fetcher) doWithRetry(ctx context.Context, fn func() error) error {
	return common.Do(ctx, fn,
		common.WithMaxRetries(3),
		common.WithInitialDelay(time.Second),
		common.WithRetryIf(func(err error) bool {
			return !isRateLimitErr(err)
		}),
	)
}

// classify 把 go-github 的错误归一化成应用错误码
func (f *Fetcher) classify(op string, err error) error {
	if isRateLimitErr(err) {
		return common.WrapError(common.ErrCodeRateLimit, op+" 触发 GitHub 限流", err)
	}
	return common.WrapError(common.ErrCodeGitHubAPI, op+" 失败", err)
}

// isRateLimitErr 探测限流错误的几种形态：
// go-github 的类型化错误、403/429 状态码、错误消息里的限流关键词
func isRateLimitErr(err error) bool {
	if err == nil {
		return false
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}
	var errResp *github.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		code := errResp.Response.StatusCode
		if code == http.StatusForbidden || code == http.StatusTooManyRequests {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "abuse detection")
}

func (f *Fetcher) sleep() {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
}

// toRepository 把 GitHub 的数据结构转换为 Domain 实体
func toRepository(item *github.Repository) *domain.Repository {
	return &domain.Repository{
		Name:        item.GetName(),
		FullName:    item.GetFullName(),
		URL:         item.GetHTMLURL(),
		Description: item.GetDescription(),
		Stars:       item.GetStargazersCount(),
		Archived:    item.GetArchived(),
	}
}

func toIssue(repo *domain.Repository, item *github.Issue, reactions int) *domain.Issue {
	labels := make([]string, 0, len(item.Labels))
	for _, l := range item.Labels {
		labels = append(labels, l.GetName())
	}

	return &domain.Issue{
		Repo:         repo.Name,
		RepoFullName: repo.FullName,
		IssueNumber:  item.GetNumber(),
		Title:        item.GetTitle(),
		Body:         item.GetBody(),
		URL:          item.GetHTMLURL(),
		Labels:       labels,
		Reactions:    reactions,
		Comments:     item.GetComments(),
		CreatedAt:    item.GetCreatedAt().Time,
		UpdatedAt:    item.GetUpdatedAt().Time,
		State:        item.GetState(),
		Author:       item.GetUser().GetLogin(),
	}
}
