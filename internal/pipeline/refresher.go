package pipeline

import (
	"context"
	"time"

	"medassist-go/pkg/log"

	"github.com/robfig/cron/v3"
)

// Reloader 从持久层重建索引。
type Reloader interface {
	Reload(ctx context.Context) (int, error)
}

// Refresher 按 cron 表达式定期重建索引，使其他实例写入的条目最终可见。
type Refresher struct {
	c        *cron.Cron
	reloader Reloader
	timeout  time.Duration
}

// NewRefresher 注册刷新任务，spec 为空时返回 nil。
func NewRefresher(spec string, reloader Reloader) (*Refresher, error) {
	if spec == "" {
		return nil, nil
	}
	r := &Refresher{
		c:        cron.New(cron.WithLocation(time.UTC)),
		reloader: reloader,
		timeout:  time.Minute,
	}
	if _, err := r.c.AddFunc(spec, r.refresh); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Refresher) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	n, err := r.reloader.Reload(ctx)
	if err != nil {
		log.Errorf("[Refresher] 定时重建索引失败: %v", err)
		return
	}
	log.Debugf("[Refresher] 索引已刷新, size: %d", n)
}

func (r *Refresher) Start() {
	r.c.Start()
	log.Info("[Refresher] 索引定时刷新已启动")
}

// Stop 停止调度并等待正在运行的刷新结束。
func (r *Refresher) Stop() {
	<-r.c.Stop().Done()
}
