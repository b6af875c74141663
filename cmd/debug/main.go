package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github-opportunity-scraper/internal/adapter/gemini"
	"github-opportunity-scraper/internal/adapter/github"
	"github-opportunity-scraper/internal/port"

	"github.com/joho/godotenv"
)

// 调试入口：对单个仓库跑一遍抓取+评分，方便手工验证两个网关
func main() {
	_ = godotenv.Load()

	githubToken := os.Getenv("GITHUB_TOKEN")
	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey == "" {
		log.Fatal("❌ 环境变量 GEMINI_API_KEY 未设置")
	}

	repoName := "cli/cli"
	if len(os.Args) > 1 {
		repoName = os.Args[1]
	}

	ctx := context.Background()

	fetcher := github.NewFetcher(githubToken, nil, 0)
	appraiser, err := gemini.NewGeminiAppraiser(ctx, geminiKey, gemini.Options{
		Model:             "gemini-2.5-flash",
		FallbackModel:     "gemini-2.0-flash-001",
		Temperature:       0.3,
		RequestsPerMinute: 12,
	})
	if err != nil {
		log.Fatalf("❌ AI 初始化失败: %v", err)
	}

	fmt.Printf("🔍 调试模式：抓取并分析 %s\n", repoName)

	repo, err := fetcher.GetRepository(ctx, repoName)
	if err != nil {
		log.Fatalf("❌ 查找仓库失败: %v", err)
	}
	fmt.Printf("✅ 仓库: %s (⭐%d) 工具仓库判定: %v\n", repo.FullName, repo.Stars, repo.IsTool())

	issues, err := fetcher.FetchIssues(ctx, repo, port.IssueFilter{
		State:        "open",
		MinReactions: 5,
		MaxIssues:    10,
	})
	if err != nil {
		log.Fatalf("❌ 抓取 Issue 失败: %v", err)
	}
	if len(issues) == 0 {
		fmt.Println("❌ 没有抓到任何 Issue")
		return
	}

	// 只分析前 3 条，节省 API 调用
	for i, issue := range issues {
		if i >= 3 {
			break
		}

		fmt.Printf("  分析 Issue #%d: %s\n", issue.IssueNumber, issue.Title)
		analysis, err := appraiser.AnalyzeIssue(ctx, issue)
		if err != nil {
			log.Printf("    ⚠️ 分析失败: %v", err)
			continue
		}
		if analysis == nil {
			fmt.Println("    ⚠️ 模型没有给出可解析的结论")
			continue
		}

		fmt.Printf("    市场潜力: %d | 技术可行性: %d | 竞争格局: %d | 变现契合: %d\n",
			analysis.MarketPotential, analysis.TechnicalFeasibility,
			analysis.Competition, analysis.MonetizationFit)
		fmt.Printf("    总分: %d\n", analysis.TotalScore)
		fmt.Printf("    简评: %s\n", analysis.OpportunitySummary)
		if analysis.ProductIdea != "" {
			fmt.Printf("    产品建议: %s\n", analysis.ProductIdea)
		}
		fmt.Println()
	}
}
