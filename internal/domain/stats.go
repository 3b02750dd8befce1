package domain

import "time"

// SendStats 按月聚合的发送统计，随投递结果在同一事务内更新。
//
// 只保留计数与收入，不留存单封邮件内容，30 天窗口外无明细。
type SendStats struct {
	ID               uint      `json:"-" gorm:"primaryKey"`
	YearMonth        string    `json:"year_month" gorm:"type:varchar(7);uniqueIndex"`
	TotalSent        int64     `json:"total_sent"`
	TotalFailed      int64     `json:"total_failed"`
	TotalRevenueSats int64     `json:"total_revenue_sats"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName 指定数据库表名
func (SendStats) TableName() string {
	return "email_send_stats"
}

// MonthKey 返回给定时刻所在月份的聚合键，格式 "2006-01"
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
