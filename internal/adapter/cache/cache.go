package cache

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github-opportunity-scraper/internal/common"
)

// cacheFile 落盘格式：排好序的仓库列表 + 人类可读的更新时间
type cacheFile struct {
	Repositories []string `json:"repositories"`
	LastUpdated  string   `json:"last_updated"`
}

// SearchedRepoCache 实现了 port.SearchedCache 接口
//
// 记录哪些仓库已经完整抓取过，跨运行生效。每次 MarkSearched 全量重写文件，
// 写放大但简单，仓库数量级是几十个，完全够用。
type SearchedRepoCache struct {
	path    string
	repos   map[string]bool
	nowFunc func() time.Time // 便于测试注入当前时间
}

// NewSearchedRepoCache 构造时加载缓存文件
// 文件不存在或解析失败只告警，从空集合开始，构造永远不失败
func NewSearchedRepoCache(path string) *SearchedRepoCache {
	c := &SearchedRepoCache{
		path:    path,
		repos:   make(map[string]bool),
		nowFunc: time.Now,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("⚠️ 读取缓存文件 %s 失败: %v，从空缓存开始", path, err)
		}
		return c
	}

	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		log.Printf("⚠️ 缓存文件 %s 解析失败: %v，从空缓存开始", path, err)
		return c
	}

	for _, name := range f.Repositories {
		c.repos[name] = true
	}
	return c
}

// IsSearched 纯内存查询
func (c *SearchedRepoCache) IsSearched(repoFullName string) bool {
	return c.repos[repoFullName]
}

// MarkSearched 加入集合并立即落盘
// 立即写而不是攒批，进程中途挂掉最多丢正在抓的那一个仓库
func (c *SearchedRepoCache) MarkSearched(repoFullName string) error {
	c.repos[repoFullName] = true
	return c.save()
}

// Size 当前缓存的仓库数
func (c *SearchedRepoCache) Size() int {
	return len(c.repos)
}

func (c *SearchedRepoCache) save() error {
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return common.WrapError(common.ErrCodeInternal, fmt.Sprintf("创建缓存目录 %s 失败", dir), err)
		}
	}

	names := make([]string, 0, len(c.repos))
	for name := range c.repos {
		names = append(names, name)
	}
	sort.Strings(names)

	data, err := json.MarshalIndent(cacheFile{
		Repositories: names,
		LastUpdated:  c.nowFunc().Format("2006-01-02 15:04:05"),
	}, "", "  ")
	if err != nil {
		return common.WrapError(common.ErrCodeInternal, "序列化缓存失败", err)
	}

	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return common.WrapError(common.ErrCodeInternal, fmt.Sprintf("写入缓存文件 %s 失败", c.path), err)
	}
	return nil
}
