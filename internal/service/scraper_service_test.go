package service

import (
	"context"
	"errors"
	"testing"

	"github-opportunity-scraper/internal/common"
	"github-opportunity-scraper/internal/config"
	"github-opportunity-scraper/internal/domain"
	"github-opportunity-scraper/internal/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ---- 各端口的 mock 实现 ----

type MockScouter struct{ mock.Mock }

func (m *MockScouter) SearchRepositories(ctx context.Context, query port.RepoSearchQuery) ([]*domain.Repository, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Repository), args.Error(1)
}

func (m *MockScouter) GetRepository(ctx context.Context, fullName string) (*domain.Repository, error) {
	args := m.Called(ctx, fullName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Repository), args.Error(1)
}

func (m *MockScouter) FetchIssues(ctx context.Context, repo *domain.Repository, filter port.IssueFilter) ([]*domain.Issue, error) {
	args := m.Called(ctx, repo, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Issue), args.Error(1)
}

type MockAppraiser struct{ mock.Mock }

func (m *MockAppraiser) AnalyzeIssue(ctx context.Context, issue *domain.Issue) (*domain.Analysis, error) {
	args := m.Called(ctx, issue)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Analysis), args.Error(1)
}

type MockCache struct{ mock.Mock }

func (m *MockCache) IsSearched(name string) bool {
	return m.Called(name).Bool(0)
}

func (m *MockCache) MarkSearched(name string) error {
	return m.Called(name).Error(0)
}

type MockStore struct{ mock.Mock }

func (m *MockStore) WriteJSON(issues []*domain.Issue, analyses []*domain.Analysis, sortBy string) error {
	return m.Called(issues, analyses, sortBy).Error(0)
}

func (m *MockStore) WriteCSV(issues []*domain.Issue, analyses []*domain.Analysis, sortBy string) error {
	return m.Called(issues, analyses, sortBy).Error(0)
}

type MockArchiver struct{ mock.Mock }

func (m *MockArchiver) Save(ctx context.Context, opp *domain.Opportunity) error {
	return m.Called(ctx, opp).Error(0)
}

func (m *MockArchiver) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

type MockNotifier struct{ mock.Mock }

func (m *MockNotifier) Notify(ctx context.Context, message string) error {
	return m.Called(ctx, message).Error(0)
}

// ---- 测试数据 ----

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Search.MinStars = 1000
	cfg.Search.Sort = "stars"
	cfg.Search.Limit = 10
	cfg.Issues.State = "open"
	cfg.Issues.MaxIssuesPerRepo = 50
	cfg.Analysis.Model = "gemini-2.5-flash"
	cfg.Analysis.MinOpportunityScore = 25
	cfg.Output.SortBy = "total_score"
	return cfg
}

func toolRepo(fullName string) *domain.Repository {
	return &domain.Repository{
		Name:        fullName,
		FullName:    fullName,
		Description: "A command-line tool",
		Stars:       30000,
	}
}

func issueIn(repo string, number int) *domain.Issue {
	return &domain.Issue{
		Repo:         repo,
		RepoFullName: repo,
		IssueNumber:  number,
		Title:        "some feature request",
	}
}

func analysisWithTotal(total int) *domain.Analysis {
	a := &domain.Analysis{
		MarketPotential:      total - 3,
		TechnicalFeasibility: 1,
		Competition:          1,
		MonetizationFit:      1,
	}
	a.RecomputeTotalScore()
	return a
}

func newTestService(cfg *config.Config) (*ScraperService, *MockScouter, *MockAppraiser, *MockCache, *MockStore, *MockArchiver, *MockNotifier) {
	scouter := new(MockScouter)
	appraiser := new(MockAppraiser)
	cache := new(MockCache)
	store := new(MockStore)
	archiver := new(MockArchiver)
	notifier := new(MockNotifier)
	svc := NewScraperService(scouter, appraiser, cache, store, archiver, notifier, cfg)
	return svc, scouter, appraiser, cache, store, archiver, notifier
}

// ---- 测试 ----

func TestRun_HappyPathWithSearch(t *testing.T) {
	cfg := testConfig()
	svc, scouter, appraiser, cache, store, archiver, notifier := newTestService(cfg)

	repo := toolRepo("cli/cli")
	good := issueIn("cli/cli", 1)
	weak := issueIn("cli/cli", 2)

	scouter.On("SearchRepositories", mock.Anything, mock.Anything).Return([]*domain.Repository{repo}, nil)
	scouter.On("FetchIssues", mock.Anything, repo, mock.Anything).Return([]*domain.Issue{good, weak}, nil)
	cache.On("MarkSearched", "cli/cli").Return(nil)

	appraiser.On("AnalyzeIssue", mock.Anything, good).Return(analysisWithTotal(30), nil)
	appraiser.On("AnalyzeIssue", mock.Anything, weak).Return(analysisWithTotal(10), nil) // 低于阈值

	store.On("WriteJSON", []*domain.Issue{good}, mock.Anything, "total_score").Return(nil)
	store.On("WriteCSV", []*domain.Issue{good}, mock.Anything, "total_score").Return(nil)
	archiver.On("Save", mock.Anything, mock.Anything).Return(nil)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	err := svc.Run(context.Background())
	require.NoError(t, err)

	scouter.AssertExpectations(t)
	appraiser.AssertExpectations(t)
	store.AssertExpectations(t)
	archiver.AssertNumberOfCalls(t, "Save", 1)
	notifier.AssertNumberOfCalls(t, "Notify", 1)
}

func TestRun_ExplicitRepoList(t *testing.T) {
	cfg := testConfig()
	cfg.Repositories = []string{"cli/cli", "already/scanned", "missing/repo", "sindresorhus/awesome"}
	svc, scouter, appraiser, cache, store, archiver, notifier := newTestService(cfg)

	repo := toolRepo("cli/cli")
	listRepo := &domain.Repository{
		FullName:    "sindresorhus/awesome",
		Description: "Awesome lists about all kinds of topics",
	}
	issue := issueIn("cli/cli", 1)

	cache.On("IsSearched", "cli/cli").Return(false)
	cache.On("IsSearched", "already/scanned").Return(true) // 缓存命中，不会查找
	cache.On("IsSearched", "missing/repo").Return(false)
	cache.On("IsSearched", "sindresorhus/awesome").Return(false)

	scouter.On("GetRepository", mock.Anything, "cli/cli").Return(repo, nil)
	scouter.On("GetRepository", mock.Anything, "missing/repo").
		Return(nil, common.NewError(common.ErrCodeNotFound, "not found")) // 单个查不到只跳过
	scouter.On("GetRepository", mock.Anything, "sindresorhus/awesome").Return(listRepo, nil) // 非工具仓库被拒

	scouter.On("FetchIssues", mock.Anything, repo, mock.Anything).Return([]*domain.Issue{issue}, nil)
	cache.On("MarkSearched", "cli/cli").Return(nil)
	appraiser.On("AnalyzeIssue", mock.Anything, issue).Return(analysisWithTotal(30), nil)
	store.On("WriteJSON", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	store.On("WriteCSV", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	archiver.On("Save", mock.Anything, mock.Anything).Return(nil)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	err := svc.Run(context.Background())
	require.NoError(t, err)

	scouter.AssertNotCalled(t, "GetRepository", mock.Anything, "already/scanned")
	scouter.AssertNotCalled(t, "SearchRepositories", mock.Anything, mock.Anything)
	// 只有 cli/cli 走到抓取阶段
	scouter.AssertNumberOfCalls(t, "FetchIssues", 1)
}

func TestRun_RepoLookupRateLimitIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Repositories = []string{"cli/cli"}
	svc, scouter, _, cache, store, _, _ := newTestService(cfg)

	cache.On("IsSearched", "cli/cli").Return(false)
	scouter.On("GetRepository", mock.Anything, "cli/cli").
		Return(nil, common.NewError(common.ErrCodeRateLimit, "API rate limit exceeded"))

	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.True(t, common.IsRateLimit(err))
	store.AssertNotCalled(t, "WriteJSON", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_FetchIssuesRateLimitIsFatal(t *testing.T) {
	cfg := testConfig()
	svc, scouter, _, cache, _, _, _ := newTestService(cfg)

	repo := toolRepo("cli/cli")
	scouter.On("SearchRepositories", mock.Anything, mock.Anything).Return([]*domain.Repository{repo}, nil)
	scouter.On("FetchIssues", mock.Anything, repo, mock.Anything).
		Return(nil, common.NewError(common.ErrCodeRateLimit, "API rate limit exceeded"))

	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.True(t, common.IsRateLimit(err))
	// 抓取失败的仓库不能被标记为已扫描
	cache.AssertNotCalled(t, "MarkSearched", "cli/cli")
}

func TestRun_FetchIssuesOtherErrorSkipsRepo(t *testing.T) {
	cfg := testConfig()
	svc, scouter, appraiser, cache, store, archiver, notifier := newTestService(cfg)

	broken := toolRepo("broken/repo")
	healthy := toolRepo("cli/cli")
	issue := issueIn("cli/cli", 1)

	scouter.On("SearchRepositories", mock.Anything, mock.Anything).
		Return([]*domain.Repository{broken, healthy}, nil)
	scouter.On("FetchIssues", mock.Anything, broken, mock.Anything).
		Return(nil, errors.New("server error"))
	scouter.On("FetchIssues", mock.Anything, healthy, mock.Anything).
		Return([]*domain.Issue{issue}, nil)
	cache.On("MarkSearched", "cli/cli").Return(nil)
	appraiser.On("AnalyzeIssue", mock.Anything, issue).Return(analysisWithTotal(30), nil)
	store.On("WriteJSON", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	store.On("WriteCSV", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	archiver.On("Save", mock.Anything, mock.Anything).Return(nil)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	err := svc.Run(context.Background())
	require.NoError(t, err)

	// 失败的仓库不标记缓存，健康的照常处理
	cache.AssertNotCalled(t, "MarkSearched", "broken/repo")
	cache.AssertCalled(t, "MarkSearched", "cli/cli")
}

func TestRun_EmptyIssuesStillMarksSearched(t *testing.T) {
	cfg := testConfig()
	svc, scouter, _, cache, store, _, notifier := newTestService(cfg)

	repo := toolRepo("quiet/repo")
	scouter.On("SearchRepositories", mock.Anything, mock.Anything).Return([]*domain.Repository{repo}, nil)
	scouter.On("FetchIssues", mock.Anything, repo, mock.Anything).Return([]*domain.Issue{}, nil)
	cache.On("MarkSearched", "quiet/repo").Return(nil)

	err := svc.Run(context.Background())
	require.NoError(t, err)

	// 一条 Issue 都没抓到也要标记，避免下次重复扫描
	cache.AssertCalled(t, "MarkSearched", "quiet/repo")
	store.AssertNotCalled(t, "WriteJSON", mock.Anything, mock.Anything, mock.Anything)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestRun_ScoringRateLimitAbortsWholeRun(t *testing.T) {
	cfg := testConfig()
	svc, scouter, appraiser, cache, store, _, notifier := newTestService(cfg)

	repo := toolRepo("cli/cli")
	first := issueIn("cli/cli", 1)
	second := issueIn("cli/cli", 2)

	scouter.On("SearchRepositories", mock.Anything, mock.Anything).Return([]*domain.Repository{repo}, nil)
	scouter.On("FetchIssues", mock.Anything, repo, mock.Anything).Return([]*domain.Issue{first, second}, nil)
	cache.On("MarkSearched", "cli/cli").Return(nil)

	// 第一条已经拿到高分，第二条触发限流：整轮终止，已评分的结果也不落盘
	appraiser.On("AnalyzeIssue", mock.Anything, first).Return(analysisWithTotal(30), nil)
	appraiser.On("AnalyzeIssue", mock.Anything, second).
		Return(nil, common.NewError(common.ErrCodeRateLimit, "quota exhausted"))

	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.True(t, common.IsRateLimit(err))

	store.AssertNotCalled(t, "WriteJSON", mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "WriteCSV", mock.Anything, mock.Anything, mock.Anything)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestRun_ScoringErrorAndNoOpinionSkip(t *testing.T) {
	cfg := testConfig()
	svc, scouter, appraiser, cache, store, archiver, notifier := newTestService(cfg)

	repo := toolRepo("cli/cli")
	failing := issueIn("cli/cli", 1)
	silent := issueIn("cli/cli", 2)
	good := issueIn("cli/cli", 3)

	scouter.On("SearchRepositories", mock.Anything, mock.Anything).Return([]*domain.Repository{repo}, nil)
	scouter.On("FetchIssues", mock.Anything, repo, mock.Anything).
		Return([]*domain.Issue{failing, silent, good}, nil)
	cache.On("MarkSearched", "cli/cli").Return(nil)

	appraiser.On("AnalyzeIssue", mock.Anything, failing).
		Return(nil, errors.New("model returned garbage")) // 非限流错误只跳过
	appraiser.On("AnalyzeIssue", mock.Anything, silent).Return(nil, nil) // 无意见
	appraiser.On("AnalyzeIssue", mock.Anything, good).Return(analysisWithTotal(30), nil)

	store.On("WriteJSON", []*domain.Issue{good}, mock.Anything, "total_score").Return(nil)
	store.On("WriteCSV", []*domain.Issue{good}, mock.Anything, "total_score").Return(nil)
	archiver.On("Save", mock.Anything, mock.Anything).Return(nil)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	err := svc.Run(context.Background())
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestRun_NoThresholdPassersSkipsPersistAndNotify(t *testing.T) {
	cfg := testConfig()
	svc, scouter, appraiser, cache, store, _, notifier := newTestService(cfg)

	repo := toolRepo("cli/cli")
	weak := issueIn("cli/cli", 1)

	scouter.On("SearchRepositories", mock.Anything, mock.Anything).Return([]*domain.Repository{repo}, nil)
	scouter.On("FetchIssues", mock.Anything, repo, mock.Anything).Return([]*domain.Issue{weak}, nil)
	cache.On("MarkSearched", "cli/cli").Return(nil)
	appraiser.On("AnalyzeIssue", mock.Anything, weak).Return(analysisWithTotal(10), nil)

	err := svc.Run(context.Background())
	require.NoError(t, err)

	store.AssertNotCalled(t, "WriteJSON", mock.Anything, mock.Anything, mock.Anything)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestRun_PersistFailuresAreNotFatal(t *testing.T) {
	cfg := testConfig()
	svc, scouter, appraiser, cache, store, archiver, notifier := newTestService(cfg)

	repo := toolRepo("cli/cli")
	issue := issueIn("cli/cli", 1)

	scouter.On("SearchRepositories", mock.Anything, mock.Anything).Return([]*domain.Repository{repo}, nil)
	scouter.On("FetchIssues", mock.Anything, repo, mock.Anything).Return([]*domain.Issue{issue}, nil)
	cache.On("MarkSearched", "cli/cli").Return(nil)
	appraiser.On("AnalyzeIssue", mock.Anything, issue).Return(analysisWithTotal(30), nil)

	// 文件写入和归档全挂，也只是记日志，整轮照样算成功
	store.On("WriteJSON", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full"))
	store.On("WriteCSV", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full"))
	archiver.On("Save", mock.Anything, mock.Anything).Return(errors.New("db down"))
	notifier.On("Notify", mock.Anything, mock.Anything).Return(errors.New("webhook down"))

	err := svc.Run(context.Background())
	assert.NoError(t, err)
}

func TestRun_NilArchiverAndNotifier(t *testing.T) {
	cfg := testConfig()
	scouter := new(MockScouter)
	appraiser := new(MockAppraiser)
	cache := new(MockCache)
	store := new(MockStore)
	svc := NewScraperService(scouter, appraiser, cache, store, nil, nil, cfg)

	repo := toolRepo("cli/cli")
	issue := issueIn("cli/cli", 1)

	scouter.On("SearchRepositories", mock.Anything, mock.Anything).Return([]*domain.Repository{repo}, nil)
	scouter.On("FetchIssues", mock.Anything, repo, mock.Anything).Return([]*domain.Issue{issue}, nil)
	cache.On("MarkSearched", "cli/cli").Return(nil)
	appraiser.On("AnalyzeIssue", mock.Anything, issue).Return(analysisWithTotal(30), nil)
	store.On("WriteJSON", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	store.On("WriteCSV", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := svc.Run(context.Background())
	assert.NoError(t, err)
}

func TestRun_NoReposFound(t *testing.T) {
	cfg := testConfig()
	svc, scouter, appraiser, _, store, _, _ := newTestService(cfg)

	scouter.On("SearchRepositories", mock.Anything, mock.Anything).Return([]*domain.Repository{}, nil)

	err := svc.Run(context.Background())
	require.NoError(t, err)
	appraiser.AssertNotCalled(t, "AnalyzeIssue", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "WriteJSON", mock.Anything, mock.Anything, mock.Anything)
}
