package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github-opportunity-scraper/internal/common"
)

// Notifier 实现了 port.Notifier 接口
//
// 扫描结束后向配置的地址发一个 GET 请求，消息经 URL 编码放在 message 参数里，
// 适配 ntfy/Bark 这类"一个 URL 就能收推送"的服务。尽力而为：失败只记日志。
type Notifier struct {
	notifyURL string
	client    *http.Client
}

// NewNotifier 创建通知器，notifyURL 为空时推送功能整体禁用
func NewNotifier(notifyURL string) *Notifier {
	return &Notifier{
		notifyURL: notifyURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Notify 发送一条摘要消息
func (n *Notifier) Notify(ctx context.Context, message string) error {
	if n.notifyURL == "" {
		return common.NewError(common.ErrCodeNotification, "通知地址为空")
	}

	target, err := url.Parse(n.notifyURL)
	if err != nil {
		return common.WrapError(common.ErrCodeNotification, "通知地址不合法", err)
	}
	query := target.Query()
	query.Set("message", message)
	target.RawQuery = query.Encode()

	err = common.Do(ctx, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if reqErr != nil {
			return reqErr
		}

		resp, getErr := n.client.Do(req)
		if getErr != nil {
			return getErr
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 300 {
			return fmt.Errorf("通知服务报错: 状态码 %d", resp.StatusCode)
		}
		return nil
	},
		common.WithMaxRetries(3),
		common.WithInitialDelay(500*time.Millisecond),
	)
	if err != nil {
		return common.WrapError(common.ErrCodeNotification, "发送通知失败", err)
	}

	return nil
}
