package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github-opportunity-scraper/internal/adapter/cache"
	"github-opportunity-scraper/internal/adapter/gemini"
	"github-opportunity-scraper/internal/adapter/github"
	"github-opportunity-scraper/internal/adapter/notify"
	"github-opportunity-scraper/internal/adapter/output"
	"github-opportunity-scraper/internal/adapter/repository"
	"github-opportunity-scraper/internal/config"
	"github-opportunity-scraper/internal/port"
	"github-opportunity-scraper/internal/service"

	"github.com/joho/godotenv"
)

func main() {
	// 1. 定义命令行参数
	mode := flag.String("mode", "scrape", "运行模式: scrape (扫描) 或 check (检查配置)")
	repos := flag.String("repos", "", "逗号分隔的仓库列表，例如 'facebook/react,vercel/next.js'")
	language := flag.String("language", "", "编程语言过滤 (覆盖配置文件)")
	minStars := flag.Int("min-stars", 0, "仓库搜索的最低星标数 (覆盖配置文件)")
	labels := flag.String("labels", "", "逗号分隔的 Issue label 过滤 (覆盖配置文件)")
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	// .env 是可选的，加载失败直接忽略
	_ = godotenv.Load()

	fmt.Println("==============================")
	fmt.Println("  GitHub Opportunity Scraper")
	fmt.Println("==============================")
	fmt.Println()

	switch *mode {
	case "check":
		if !runCheck(*configPath) {
			os.Exit(1)
		}
	case "scrape":
		runScrape(*configPath, *repos, *language, *minStars, *labels)
	default:
		fmt.Println("❌ 未知模式，请使用 -mode=scrape 或 -mode=check")
		os.Exit(1)
	}
}

// runScrape 装配所有组件并执行一轮扫描
func runScrape(configPath, repos, language string, minStars int, labels string) {
	// 2. 加载配置，CLI 参数覆盖配置文件
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("❌ 配置加载失败: %v", err)
	}
	if repos != "" {
		cfg.Repositories = splitList(repos)
	}
	if language != "" {
		cfg.Search.Language = language
	}
	if minStars > 0 {
		cfg.Search.MinStars = minStars
	}
	if labels != "" {
		cfg.Issues.Labels = splitList(labels)
	}

	// 3. 读取凭证：GITHUB_TOKEN 可选（匿名访问限 60 次/小时），GEMINI_API_KEY 必须
	githubToken := os.Getenv("GITHUB_TOKEN")
	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey == "" {
		fmt.Println("❌ 环境变量 GEMINI_API_KEY 未设置")
		fmt.Println("   到 https://aistudio.google.com/apikey 申请一个")
		os.Exit(1)
	}

	ctx := context.Background()

	// 4. 装配各组件
	repoCache := cache.NewSearchedRepoCache(cfg.Cache.File)

	delay := time.Duration(cfg.RateLimits.DelayBetweenRequests * float64(time.Second))
	fetcher := github.NewFetcher(githubToken, repoCache, delay)
	fetcher.ReportQuota(ctx)

	appraiser, err := gemini.NewGeminiAppraiser(ctx, geminiKey, gemini.Options{
		Model:             cfg.Analysis.Model,
		FallbackModel:     cfg.Analysis.FallbackModel,
		Temperature:       cfg.Analysis.Temperature,
		RequestsPerMinute: cfg.RateLimits.GeminiRequestsPerMinute,
	})
	if err != nil {
		log.Fatalf("❌ AI 初始化失败: %v", err)
	}

	writer, err := output.NewWriter(cfg.Output.Directory, cfg.Output.JSONFilename, cfg.Output.CSVFilename)
	if err != nil {
		log.Fatalf("❌ 输出目录初始化失败: %v", err)
	}

	var archiver port.Archiver
	if cfg.Database.DSN != "" {
		pg, err := repository.NewPostgresRepo(cfg.Database.DSN)
		if err != nil {
			log.Fatalf("❌ DB 初始化失败: %v", err)
		}
		archiver = pg
	}

	var notifier port.Notifier
	if cfg.Notify.URL != "" {
		notifier = notify.NewNotifier(cfg.Notify.URL)
	}

	// 5. 执行扫描，致命错误（限流等）以非零状态退出
	scraper := service.NewScraperService(fetcher, appraiser, repoCache, writer, archiver, notifier, cfg)
	if err := scraper.Run(ctx); err != nil {
		log.Fatalf("❌ 扫描中止: %v", err)
	}
}

// runCheck 检查凭证和配置是否就绪
// 必需项（GEMINI_API_KEY、配置文件）有问题返回 false，调用方以非零状态退出
func runCheck(configPath string) bool {
	fmt.Println("🔍 检查配置...")
	fmt.Println()

	ok := true

	if os.Getenv("GITHUB_TOKEN") != "" {
		fmt.Println("✅ GITHUB_TOKEN 已设置")
	} else {
		fmt.Println("⚠️ GITHUB_TOKEN 未设置（可选，设置后配额更高）")
	}

	if os.Getenv("GEMINI_API_KEY") != "" {
		fmt.Println("✅ GEMINI_API_KEY 已设置")
	} else {
		fmt.Println("❌ GEMINI_API_KEY 未设置（必需）")
		fmt.Println("   到 https://aistudio.google.com/apikey 申请一个")
		ok = false
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("❌ 配置文件有问题: %v\n", err)
		return false
	}
	fmt.Printf("✅ 配置文件 %s 可用\n", configPath)

	if _, err := os.Stat(cfg.Output.Directory); err == nil {
		fmt.Printf("✅ 输出目录 %s 已存在\n", cfg.Output.Directory)
	} else {
		fmt.Printf("⚠️ 输出目录 %s 不存在，运行时会自动创建\n", cfg.Output.Directory)
	}

	return ok
}

// splitList 按逗号切分并去掉两端空白，空片段丢弃
func splitList(s string) []string {
	var items []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
