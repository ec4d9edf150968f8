package clock

import (
	"sync"
	"time"
)

// ISOFormat RFC3339 UTC毫秒精度时间格式，末尾带Z
const ISOFormat = "2006-01-02T15:04:05.000Z"

// Clock 时钟接口
// 所有领域组件只通过该接口获取时间，测试可注入固定时钟
type Clock interface {
	// Now 返回当前UTC时间
	Now() time.Time

	// NowISO 返回RFC3339毫秒精度的UTC时间字符串
	NowISO() string
}

// SystemClock 系统时钟实现
type SystemClock struct{}

// NewSystemClock 创建系统时钟
func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

func (c *SystemClock) Now() time.Time {
	return time.Now().UTC()
}

func (c *SystemClock) NowISO() string {
	return c.Now().Format(ISOFormat)
}

// FormatISO 将任意时间格式化为统一的ISO字符串
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISOFormat)
}

// ManualClock 手动时钟，用于测试中固定时间
type ManualClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManualClock 创建固定在指定时间的手动时钟
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t.UTC()}
}

func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *ManualClock) NowISO() string {
	return c.Now().Format(ISOFormat)
}

// Set 设置当前时间
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Advance 前进指定时长
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
