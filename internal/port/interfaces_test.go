package port_test

import (
	"github-opportunity-scraper/internal/adapter/cache"
	"github-opportunity-scraper/internal/adapter/gemini"
	"github-opportunity-scraper/internal/adapter/github"
	"github-opportunity-scraper/internal/adapter/notify"
	"github-opportunity-scraper/internal/adapter/output"
	"github-opportunity-scraper/internal/adapter/repository"
	"github-opportunity-scraper/internal/port"
)

// 编译期检查各适配器是否实现了对应端口
var (
	_ port.Scouter          = (*github.Fetcher)(nil)
	_ port.Appraiser        = (*gemini.GeminiAppraiser)(nil)
	_ port.SearchedCache    = (*cache.SearchedRepoCache)(nil)
	_ port.OpportunityStore = (*output.Writer)(nil)
	_ port.Archiver         = (*repository.PostgresRepo)(nil)
	_ port.Notifier         = (*notify.Notifier)(nil)
)
