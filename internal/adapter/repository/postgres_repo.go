package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github-opportunity-scraper/internal/domain"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// opportunityRow 是 opportunities 表的行结构
// 主键是 "owner/repo#123" 形式的键，Save 天然就是 Upsert
type opportunityRow struct {
	Key                  string `gorm:"primaryKey"`
	Repo                 string
	RepoFullName         string
	IssueNumber          int
	Title                string
	URL                  string
	Labels               string // 逗号拼接的扁平形式
	Reactions            int
	Comments             int
	State                string
	Author               string
	MarketPotential      int
	TechnicalFeasibility int
	Competition          int
	MonetizationFit      int
	TotalScore           int
	OpportunitySummary   string `gorm:"type:text"`
	ProductIdea          string `gorm:"type:text"`
	SkipReason           string `gorm:"type:text"`
	IssueCreatedAt       time.Time
	IssueUpdatedAt       time.Time
	ScrapedAt            time.Time
}

func (opportunityRow) TableName() string {
	return "opportunities"
}

// PostgresRepo 实现了 port.Archiver 接口
// 可选的数据库归档，文件才是主存储，这里挂了不影响扫描
type PostgresRepo struct {
	db *gorm.DB
}

// NewPostgresRepo 初始化数据库连接并自动迁移表结构
func NewPostgresRepo(dsn string) (*PostgresRepo, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 自动迁移：建表、补字段都交给 GORM
	if err := db.AutoMigrate(&opportunityRow{}); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}

	return &PostgresRepo{db: db}, nil
}

// Save 保存或更新一条机会记录
// 主键固定是 "owner/repo#123"，冲突时整行覆盖，和文件侧的合并语义保持一致
func (r *PostgresRepo) Save(ctx context.Context, opp *domain.Opportunity) error {
	row := toRow(opp)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(row).Error
}

// Exists 检查某个键是否已归档
func (r *PostgresRepo) Exists(ctx context.Context, key string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&opportunityRow{}).Where("key = ?", key).Count(&count).Error
	return count > 0, err
}

// TopOpportunities 按总分取最高的 N 条，供人工回看
func (r *PostgresRepo) TopOpportunities(ctx context.Context, limit int) ([]*domain.Opportunity, error) {
	var rows []*opportunityRow
	err := r.db.WithContext(ctx).
		Order("total_score DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	opps := make([]*domain.Opportunity, 0, len(rows))
	for _, row := range rows {
		opps = append(opps, fromRow(row))
	}
	return opps, nil
}

func toRow(opp *domain.Opportunity) *opportunityRow {
	return &opportunityRow{
		Key:                  opp.Key(),
		Repo:                 opp.Issue.Repo,
		RepoFullName:         opp.Issue.RepoFullName,
		IssueNumber:          opp.Issue.IssueNumber,
		Title:                opp.Issue.Title,
		URL:                  opp.Issue.URL,
		Labels:               strings.Join(opp.Issue.Labels, ", "),
		Reactions:            opp.Issue.Reactions,
		Comments:             opp.Issue.Comments,
		State:                opp.Issue.State,
		Author:               opp.Issue.Author,
		MarketPotential:      opp.Analysis.MarketPotential,
		TechnicalFeasibility: opp.Analysis.TechnicalFeasibility,
		Competition:          opp.Analysis.Competition,
		MonetizationFit:      opp.Analysis.MonetizationFit,
		TotalScore:           opp.Analysis.TotalScore,
		OpportunitySummary:   opp.Analysis.OpportunitySummary,
		ProductIdea:          opp.Analysis.ProductIdea,
		SkipReason:           opp.Analysis.SkipReason,
		IssueCreatedAt:       opp.Issue.CreatedAt,
		IssueUpdatedAt:       opp.Issue.UpdatedAt,
		ScrapedAt:            opp.ScrapedAt,
	}
}

func fromRow(row *opportunityRow) *domain.Opportunity {
	var labels []string
	if row.Labels != "" {
		labels = strings.Split(row.Labels, ", ")
	}

	return &domain.Opportunity{
		Issue: domain.Issue{
			Repo:         row.Repo,
			RepoFullName: row.RepoFullName,
			IssueNumber:  row.IssueNumber,
			Title:        row.Title,
			URL:          row.URL,
			Labels:       labels,
			Reactions:    row.Reactions,
			Comments:     row.Comments,
			CreatedAt:    row.IssueCreatedAt,
			UpdatedAt:    row.IssueUpdatedAt,
			State:        row.State,
			Author:       row.Author,
		},
		Analysis: domain.Analysis{
			MarketPotential:      row.MarketPotential,
			TechnicalFeasibility: row.TechnicalFeasibility,
			Competition:          row.Competition,
			MonetizationFit:      row.MonetizationFit,
			TotalScore:           row.TotalScore,
			OpportunitySummary:   row.OpportunitySummary,
			ProductIdea:          row.ProductIdea,
			SkipReason:           row.SkipReason,
		},
		ScrapedAt: row.ScrapedAt,
	}
}
