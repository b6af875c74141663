package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github-opportunity-scraper/internal/common"
	"github-opportunity-scraper/internal/config"
	"github-opportunity-scraper/internal/domain"
	"github-opportunity-scraper/internal/port"
)

// ScraperService 驱动一轮完整的机会扫描
//
// 四个阶段顺序执行：仓库获取 → Issue 抓取 → AI 评分 → 落盘和推送。
// 任意一侧网关的限流信号都会让整轮立即终止（继续跑只会白烧配额），
// 其他错误一律记日志后跳过当前对象继续。
type ScraperService struct {
	fetcher   port.Scouter
	appraiser port.Appraiser
	cache     port.SearchedCache
	store     port.OpportunityStore
	archiver  port.Archiver // 可为 nil，未配置数据库时不归档
	notifier  port.Notifier // 可为 nil，未配置通知地址时不推送
	cfg       *config.Config
	nowFunc   func() time.Time
}

// NewScraperService 创建扫描服务，所有依赖显式注入
func NewScraperService(
	fetcher port.Scouter,
	appraiser port.Appraiser,
	cache port.SearchedCache,
	store port.OpportunityStore,
	archiver port.Archiver,
	notifier port.Notifier,
	cfg *config.Config,
) *ScraperService {
	return &ScraperService{
		fetcher:   fetcher,
		appraiser: appraiser,
		cache:     cache,
		store:     store,
		archiver:  archiver,
		notifier:  notifier,
		cfg:       cfg,
		nowFunc:   time.Now,
	}
}

// Run 执行一轮扫描
// 返回 nil 表示正常结束（包括"什么都没找到"），返回错误表示致命中止
func (s *ScraperService) Run(ctx context.Context) error {
	// 1. 仓库获取
	fmt.Println("🚀 [第一步] 获取待扫描仓库...")
	repos, err := s.acquireRepositories(ctx)
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		fmt.Println("📭 没有可扫描的仓库，本轮结束")
		return nil
	}

	// 2. Issue 抓取
	fmt.Printf("\n📥 [第二步] 从 %d 个仓库抓取 Issue...\n", len(repos))
	issues, err := s.acquireIssues(ctx, repos)
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		fmt.Println("📭 没有符合条件的 Issue，本轮结束")
		return nil
	}
	fmt.Printf("✅ 共收集 %d 条 Issue\n", len(issues))

	// 3. AI 评分
	fmt.Printf("\n🧠 [第三步] AI 评分 (模型: %s，保留阈值: %d)...\n",
		s.cfg.Analysis.Model, s.cfg.Analysis.MinOpportunityScore)
	kept, analyses, err := s.scoreIssues(ctx, issues)
	if err != nil {
		return err
	}
	if len(kept) == 0 {
		fmt.Printf("📭 没有达到 %d 分的机会，本轮结束\n", s.cfg.Analysis.MinOpportunityScore)
		return nil
	}

	// 4. 落盘和推送
	fmt.Printf("\n💾 [第四步] 写入 %d 个机会...\n", len(kept))
	s.persist(ctx, kept, analyses)
	s.notify(ctx, len(kept))

	fmt.Printf("\n🎉 本轮扫描完成，共发现 %d 个商业机会\n", len(kept))
	return nil
}

// acquireRepositories 获取待扫描仓库
// 配置里指定了仓库列表就逐个精确查找，否则走星标/语言搜索
func (s *ScraperService) acquireRepositories(ctx context.Context) ([]*domain.Repository, error) {
	if len(s.cfg.Repositories) > 0 {
		fmt.Printf("📋 使用指定的 %d 个仓库\n", len(s.cfg.Repositories))

		var repos []*domain.Repository
		for _, name := range s.cfg.Repositories {
			if s.cache.IsSearched(name) {
				fmt.Printf("⏭️ %s 已扫描过（缓存命中），跳过\n", name)
				continue
			}

			repo, err := s.fetcher.GetRepository(ctx, name)
			if err != nil {
				// 单个仓库查不到不算致命，限流除外
				if common.IsRateLimit(err) {
					return nil, err
				}
				log.Printf("❌ 查找仓库 %s 失败: %v，跳过", name, err)
				continue
			}

			if !repo.IsTool() {
				fmt.Printf("⏭️ %s 看起来是文档/课程/清单类仓库，跳过\n", name)
				continue
			}

			repos = append(repos, repo)
		}
		return repos, nil
	}

	return s.fetcher.SearchRepositories(ctx, port.RepoSearchQuery{
		Language: s.cfg.Search.Language,
		MinStars: s.cfg.Search.MinStars,
		Sort:     s.cfg.Search.Sort,
		Limit:    s.cfg.Search.Limit,
	})
}

// acquireIssues 逐仓库抓取 Issue
// 每个仓库抓完立刻记入缓存（哪怕一条都没抓到），重复运行单调跳过已扫仓库
func (s *ScraperService) acquireIssues(ctx context.Context, repos []*domain.Repository) ([]*domain.Issue, error) {
	filter := port.IssueFilter{
		Labels:       s.cfg.Issues.Labels,
		State:        s.cfg.Issues.State,
		MinReactions: s.cfg.Issues.MinReactions,
		MinComments:  s.cfg.Issues.MinComments,
		MaxIssues:    s.cfg.Issues.MaxIssuesPerRepo,
	}

	var all []*domain.Issue
	for _, repo := range repos {
		issues, err := s.fetcher.FetchIssues(ctx, repo, filter)
		if err != nil {
			if common.IsRateLimit(err) {
				return nil, err
			}
			log.Printf("❌ 抓取 %s 的 Issue 失败: %v，跳过该仓库", repo.FullName, err)
			continue
		}

		all = append(all, issues...)

		if err := s.cache.MarkSearched(repo.FullName); err != nil {
			log.Printf("⚠️ 标记 %s 已扫描失败: %v", repo.FullName, err)
		}
	}
	return all, nil
}

// scoreIssues 逐条评分，只保留达到阈值的 (Issue, Analysis) 对
func (s *ScraperService) scoreIssues(ctx context.Context, issues []*domain.Issue) ([]*domain.Issue, []*domain.Analysis, error) {
	var kept []*domain.Issue
	var analyses []*domain.Analysis

	for i, issue := range issues {
		fmt.Printf("   [%d/%d] 正在分析 %s...\n", i+1, len(issues), issue.Key())

		analysis, err := s.appraiser.AnalyzeIssue(ctx, issue)
		if err != nil {
			// 限流致命，评分阶段中止时本轮未落盘的结果全部丢弃
			if common.IsRateLimit(err) {
				return nil, nil, err
			}
			log.Printf("❌ 分析 %s 失败: %v，跳过", issue.Key(), err)
			continue
		}
		if analysis == nil {
			// 模型没给出可解析的结论，按"无意见"跳过
			continue
		}

		if analysis.TotalScore >= s.cfg.Analysis.MinOpportunityScore {
			kept = append(kept, issue)
			analyses = append(analyses, analysis)
			fmt.Printf("   💎 %s 得分 %d，保留\n", issue.Key(), analysis.TotalScore)
		}
	}

	return kept, analyses, nil
}

// persist 写两种输出表示，再做可选的数据库归档
// 这里的失败都不致命：文件写挂了记日志，归档挂了也记日志
func (s *ScraperService) persist(ctx context.Context, issues []*domain.Issue, analyses []*domain.Analysis) {
	sortBy := s.cfg.Output.SortBy

	if err := s.store.WriteJSON(issues, analyses, sortBy); err != nil {
		log.Printf("❌ JSON 输出写入失败: %v", err)
	}
	if err := s.store.WriteCSV(issues, analyses, sortBy); err != nil {
		log.Printf("❌ CSV 输出写入失败: %v", err)
	}

	if s.archiver == nil {
		return
	}
	now := s.nowFunc()
	for i := range issues {
		opp := &domain.Opportunity{
			Issue:     *issues[i],
			Analysis:  *analyses[i],
			ScrapedAt: now,
		}
		if err := s.archiver.Save(ctx, opp); err != nil {
			log.Printf("⚠️ 归档 %s 到数据库失败: %v", opp.Key(), err)
		}
	}
}

// notify 推送一条摘要，失败只记日志
func (s *ScraperService) notify(ctx context.Context, count int) {
	if s.notifier == nil || count == 0 {
		return
	}

	message := fmt.Sprintf("GitHub 机会扫描完成：发现 %d 个商业机会", count)
	if err := s.notifier.Notify(ctx, message); err != nil {
		log.Printf("⚠️ 推送通知失败: %v", err)
	}
}
