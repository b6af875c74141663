package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github-opportunity-scraper/internal/common"
	"github-opportunity-scraper/internal/domain"
)

// Writer 实现了 port.OpportunityStore 接口
//
// 两种输出（JSON 结构化 / CSV 扁平化）共用同一套合并语义：
// 读出旧文件 → 按 "repo#issue" 键覆盖合并（新数据赢）→ 稳定排序 → 全量重写。
// 旧文件损坏只告警，当成没有历史数据继续写。
type Writer struct {
	dir      string
	jsonName string
	csvName  string
	nowFunc  func() time.Time // 便于测试注入当前时间
}

// NewWriter 创建输出目录并返回写入器
func NewWriter(dir, jsonName, csvName string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, common.WrapError(common.ErrCodeInternal, fmt.Sprintf("创建输出目录 %s 失败", dir), err)
	}
	return &Writer{
		dir:      dir,
		jsonName: jsonName,
		csvName:  csvName,
		nowFunc:  time.Now,
	}, nil
}

// analysisRecord / record 是落盘格式，字段名是对外契约，不要随意改
type analysisRecord struct {
	MarketPotential      int    `json:"market_potential"`
	TechnicalFeasibility int    `json:"technical_feasibility"`
	Competition          int    `json:"competition"`
	MonetizationFit      int    `json:"monetization_fit"`
	TotalScore           int    `json:"total_score"`
	OpportunitySummary   string `json:"opportunity_summary"`
	ProductIdea          string `json:"product_idea"`
	SkipReason           string `json:"skip_reason"`
}

type record struct {
	Repo         string         `json:"repo"`
	RepoFullName string         `json:"repo_full_name"`
	IssueNumber  int            `json:"issue_number"`
	Title        string         `json:"title"`
	Body         string         `json:"body"`
	URL          string         `json:"url"`
	Labels       []string       `json:"labels"`
	Reactions    int            `json:"reactions"`
	Comments     int            `json:"comments"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
	State        string         `json:"state"`
	Author       string         `json:"author"`
	Analysis     analysisRecord `json:"ai_analysis"`
	ScrapedAt    string         `json:"scraped_at"`
}

func (r *record) key() string {
	return fmt.Sprintf("%s#%d", r.RepoFullName, r.IssueNumber)
}

type metadata struct {
	GeneratedAt        string `json:"generated_at"`
	TotalOpportunities int    `json:"total_opportunities"`
	SortedBy           string `json:"sorted_by"`
}

type jsonDocument struct {
	Metadata      metadata  `json:"metadata"`
	Opportunities []*record `json:"opportunities"`
}

// WriteJSON 把本轮结果合并写入 JSON 文件
func (w *Writer) WriteJSON(issues []*domain.Issue, analyses []*domain.Analysis, sortBy string) error {
	if len(issues) != len(analyses) {
		log.Printf("❌ Issue 和分析结果数量不一致 (%d vs %d)，跳过 JSON 写入", len(issues), len(analyses))
		return common.NewError(common.ErrCodeInvalidInput, "Issue 和分析结果数量不一致")
	}

	path := filepath.Join(w.dir, w.jsonName)

	existing := w.loadJSON(path)
	all, newCount, updatedCount := w.merge(existing, issues, analyses)
	sortRecords(all, sortBy)

	doc := jsonDocument{
		Metadata: metadata{
			GeneratedAt:        w.nowFunc().Format(time.RFC3339),
			TotalOpportunities: len(all),
			SortedBy:           sortBy,
		},
		Opportunities: all,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return common.WrapError(common.ErrCodeInternal, "序列化 JSON 输出失败", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return common.WrapError(common.ErrCodeInternal, fmt.Sprintf("写入 %s 失败", path), err)
	}

	fmt.Printf("✅ 共 %d 条机会写入 %s\n", len(all), path)
	fmt.Printf("   → 新增 %d 条，更新 %d 条\n", newCount, updatedCount)
	return nil
}

// WriteCSV 把本轮结果合并写入 CSV 文件，语义与 WriteJSON 完全一致
func (w *Writer) WriteCSV(issues []*domain.Issue, analyses []*domain.Analysis, sortBy string) error {
	if len(issues) != len(analyses) {
		log.Printf("❌ Issue 和分析结果数量不一致 (%d vs %d)，跳过 CSV 写入", len(issues), len(analyses))
		return common.NewError(common.ErrCodeInvalidInput, "Issue 和分析结果数量不一致")
	}

	path := filepath.Join(w.dir, w.csvName)

	existing := w.loadCSV(path)
	all, newCount, updatedCount := w.merge(existing, issues, analyses)
	sortRecords(all, sortBy)

	f, err := os.Create(path)
	if err != nil {
		return common.WrapError(common.ErrCodeInternal, fmt.Sprintf("创建 %s 失败", path), err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(csvHeader); err != nil {
		return common.WrapError(common.ErrCodeInternal, "写入 CSV 表头失败", err)
	}
	for _, r := range all {
		if err := cw.Write(toCSVRow(r)); err != nil {
			return common.WrapError(common.ErrCodeInternal, "写入 CSV 行失败", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return common.WrapError(common.ErrCodeInternal, fmt.Sprintf("写入 %s 失败", path), err)
	}

	fmt.Printf("✅ 共 %d 条机会写入 %s\n", len(all), path)
	fmt.Printf("   → 新增 %d 条，更新 %d 条\n", newCount, updatedCount)
	return nil
}

// merge 把新记录按键覆盖到旧集合上，保持插入顺序以便排序时稳定断平
func (w *Writer) merge(existing []*record, issues []*domain.Issue, analyses []*domain.Analysis) (all []*record, newCount, updatedCount int) {
	index := make(map[string]int)
	for _, r := range existing {
		if _, dup := index[r.key()]; dup {
			continue
		}
		index[r.key()] = len(all)
		all = append(all, r)
	}

	now := w.nowFunc().Format(time.RFC3339)
	for i := range issues {
		r := newRecord(issues[i], analyses[i], now)
		if pos, ok := index[r.key()]; ok {
			// 键冲突时新数据无条件覆盖，不比较时间戳
			all[pos] = r
			updatedCount++
		} else {
			index[r.key()] = len(all)
			all = append(all, r)
			newCount++
		}
	}
	return all, newCount, updatedCount
}

func newRecord(issue *domain.Issue, analysis *domain.Analysis, scrapedAt string) *record {
	return &record{
		Repo:         issue.Repo,
		RepoFullName: issue.RepoFullName,
		IssueNumber:  issue.IssueNumber,
		Title:        issue.Title,
		Body:         issue.Body,
		URL:          issue.URL,
		Labels:       append([]string(nil), issue.Labels...),
		Reactions:    issue.Reactions,
		Comments:     issue.Comments,
		CreatedAt:    issue.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    issue.UpdatedAt.Format(time.RFC3339),
		State:        issue.State,
		Author:       issue.Author,
		Analysis: analysisRecord{
			MarketPotential:      analysis.MarketPotential,
			TechnicalFeasibility: analysis.TechnicalFeasibility,
			Competition:          analysis.Competition,
			MonetizationFit:      analysis.MonetizationFit,
			TotalScore:           analysis.TotalScore,
			OpportunitySummary:   analysis.OpportunitySummary,
			ProductIdea:          analysis.ProductIdea,
			SkipReason:           analysis.SkipReason,
		},
		ScrapedAt: scrapedAt,
	}
}

// loadJSON 读旧文件，任何失败都当成没有历史数据
func (w *Writer) loadJSON(path string) []*record {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("⚠️ 读取 %s 失败: %v，按无历史数据处理", path, err)
		}
		return nil
	}

	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Printf("⚠️ 解析 %s 失败: %v，按无历史数据处理", path, err)
		return nil
	}

	if len(doc.Opportunities) > 0 {
		fmt.Printf("📚 发现 %d 条历史机会记录\n", len(doc.Opportunities))
	}
	return doc.Opportunities
}

var csvHeader = []string{
	"repo", "repo_full_name", "issue_number", "title", "body", "url", "labels",
	"reactions", "comments", "created_at", "updated_at", "state", "author",
	"market_potential", "technical_feasibility", "competition", "monetization_fit",
	"total_score", "opportunity_summary", "product_idea", "skip_reason", "scraped_at",
}

func toCSVRow(r *record) []string {
	return []string{
		r.Repo,
		r.RepoFullName,
		strconv.Itoa(r.IssueNumber),
		r.Title,
		r.Body,
		r.URL,
		strings.Join(r.Labels, ", "),
		strconv.Itoa(r.Reactions),
		strconv.Itoa(r.Comments),
		r.CreatedAt,
		r.UpdatedAt,
		r.State,
		r.Author,
		strconv.Itoa(r.Analysis.MarketPotential),
		strconv.Itoa(r.Analysis.TechnicalFeasibility),
		strconv.Itoa(r.Analysis.Competition),
		strconv.Itoa(r.Analysis.MonetizationFit),
		strconv.Itoa(r.Analysis.TotalScore),
		r.Analysis.OpportunitySummary,
		r.Analysis.ProductIdea,
		r.Analysis.SkipReason,
		r.ScrapedAt,
	}
}

// loadCSV 读旧 CSV，表头缺列或数字解析失败都当成没有历史数据
func (w *Writer) loadCSV(path string) []*record {
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("⚠️ 读取 %s 失败: %v，按无历史数据处理", path, err)
		}
		return nil
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil || len(rows) < 1 {
		if err != nil {
			log.Printf("⚠️ 解析 %s 失败: %v，按无历史数据处理", path, err)
		}
		return nil
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[name] = i
	}

	records := make([]*record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		r, err := fromCSVRow(row, col)
		if err != nil {
			log.Printf("⚠️ 解析 %s 失败: %v，按无历史数据处理", path, err)
			return nil
		}
		records = append(records, r)
	}

	if len(records) > 0 {
		fmt.Printf("📚 发现 %d 条历史机会记录\n", len(records))
	}
	return records
}

func fromCSVRow(row []string, col map[string]int) (*record, error) {
	get := func(name string) (string, error) {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return "", fmt.Errorf("缺少列 %s", name)
		}
		return row[i], nil
	}
	getInt := func(name string) (int, error) {
		s, err := get(name)
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("列 %s 不是整数: %q", name, s)
		}
		return n, nil
	}

	r := &record{}
	var err error
	if r.Repo, err = get("repo"); err != nil {
		return nil, err
	}
	if r.RepoFullName, err = get("repo_full_name"); err != nil {
		return nil, err
	}
	if r.IssueNumber, err = getInt("issue_number"); err != nil {
		return nil, err
	}
	if r.Title, err = get("title"); err != nil {
		return nil, err
	}
	if r.Body, err = get("body"); err != nil {
		return nil, err
	}
	if r.URL, err = get("url"); err != nil {
		return nil, err
	}
	labels, err := get("labels")
	if err != nil {
		return nil, err
	}
	if labels != "" {
		r.Labels = strings.Split(labels, ", ")
	}
	if r.Reactions, err = getInt("reactions"); err != nil {
		return nil, err
	}
	if r.Comments, err = getInt("comments"); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = get("created_at"); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = get("updated_at"); err != nil {
		return nil, err
	}
	if r.State, err = get("state"); err != nil {
		return nil, err
	}
	if r.Author, err = get("author"); err != nil {
		return nil, err
	}
	if r.Analysis.MarketPotential, err = getInt("market_potential"); err != nil {
		return nil, err
	}
	if r.Analysis.TechnicalFeasibility, err = getInt("technical_feasibility"); err != nil {
		return nil, err
	}
	if r.Analysis.Competition, err = getInt("competition"); err != nil {
		return nil, err
	}
	if r.Analysis.MonetizationFit, err = getInt("monetization_fit"); err != nil {
		return nil, err
	}
	if r.Analysis.TotalScore, err = getInt("total_score"); err != nil {
		return nil, err
	}
	if r.Analysis.OpportunitySummary, err = get("opportunity_summary"); err != nil {
		return nil, err
	}
	if r.Analysis.ProductIdea, err = get("product_idea"); err != nil {
		return nil, err
	}
	if r.Analysis.SkipReason, err = get("skip_reason"); err != nil {
		return nil, err
	}
	if r.ScrapedAt, err = get("scraped_at"); err != nil {
		return nil, err
	}
	return r, nil
}

// sortRecords 按指定字段降序稳定排序，分数相同保持原有顺序
func sortRecords(records []*record, sortBy string) {
	key := func(r *record) int {
		switch sortBy {
		case "market_potential":
			return r.Analysis.MarketPotential
		case "reactions":
			return r.Reactions
		case "comments":
			return r.Comments
		default: // total_score
			return r.Analysis.TotalScore
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return key(records[i]) > key(records[j])
	})
}
