package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 对应 config.yaml 的完整结构
type Config struct {
	// 指定仓库列表 (owner/repo)，非空时跳过搜索直接精确查找
	Repositories []string `yaml:"repositories"`

	Search struct {
		Language string `yaml:"language"`
		MinStars int    `yaml:"min_stars"`
		Sort     string `yaml:"sort"`
		Limit    int    `yaml:"limit"`
	} `yaml:"search"`

	Issues struct {
		Labels           []string `yaml:"labels"`
		State            string   `yaml:"state"`
		MinReactions     int      `yaml:"min_reactions"`
		MinComments      int      `yaml:"min_comments"`
		MaxIssuesPerRepo int      `yaml:"max_issues_per_repo"`
	} `yaml:"issues"`

	Analysis struct {
		Model               string  `yaml:"model"`
		FallbackModel       string  `yaml:"fallback_model"`
		Temperature         float32 `yaml:"temperature"`
		MinOpportunityScore int     `yaml:"min_opportunity_score"`
	} `yaml:"analysis"`

	RateLimits struct {
		// Gemini 免费层 15 RPM，默认 12 留一点余量
		GeminiRequestsPerMinute int `yaml:"gemini_requests_per_minute"`
		// GitHub 每次请求之间的礼貌延迟（秒）
		DelayBetweenRequests float64 `yaml:"delay_between_requests"`
	} `yaml:"rate_limits"`

	Output struct {
		Directory    string `yaml:"directory"`
		JSONFilename string `yaml:"json_filename"`
		CSVFilename  string `yaml:"csv_filename"`
		SortBy       string `yaml:"sort_by"`
	} `yaml:"output"`

	Cache struct {
		File string `yaml:"file"`
	} `yaml:"cache"`

	// 可选：通知推送地址，为空则不推送
	Notify struct {
		URL string `yaml:"url"`
	} `yaml:"notify"`

	// 可选：Postgres 归档，DSN 为空则不启用
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
}

// Load 读取并解析配置文件，配置缺失是致命错误（由调用方决定退出）
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Search.MinStars = 1000
	cfg.Search.Sort = "stars"
	cfg.Search.Limit = 10
	cfg.Issues.State = "open"
	cfg.Issues.MaxIssuesPerRepo = 50
	cfg.Analysis.Model = "gemini-2.5-flash"
	cfg.Analysis.FallbackModel = "gemini-2.0-flash-001"
	cfg.Analysis.Temperature = 0.3
	cfg.Analysis.MinOpportunityScore = 25
	cfg.RateLimits.GeminiRequestsPerMinute = 12
	cfg.RateLimits.DelayBetweenRequests = 0.1
	cfg.Output.Directory = "output"
	cfg.Output.JSONFilename = "opportunities.json"
	cfg.Output.CSVFilename = "opportunities.csv"
	cfg.Output.SortBy = "total_score"
	cfg.Cache.File = "output/searched_repos.json"
	return cfg
}

func (c *Config) validate() error {
	if c.RateLimits.GeminiRequestsPerMinute <= 0 {
		return fmt.Errorf("gemini_requests_per_minute 必须大于 0，当前为 %d", c.RateLimits.GeminiRequestsPerMinute)
	}
	if c.Issues.MaxIssuesPerRepo <= 0 {
		return fmt.Errorf("max_issues_per_repo 必须大于 0，当前为 %d", c.Issues.MaxIssuesPerRepo)
	}
	switch c.Output.SortBy {
	case "total_score", "market_potential", "reactions", "comments":
	default:
		return fmt.Errorf("不支持的排序字段: %s", c.Output.SortBy)
	}
	switch c.Issues.State {
	case "open", "closed", "all":
	default:
		return fmt.Errorf("不支持的 Issue 状态: %s", c.Issues.State)
	}
	return nil
}
