package storage

import (
	"errors"
	"time"

	"lnemail/backend/internal/domain"
)

var (
	// ErrAccountNotFound 账户未找到错误
	ErrAccountNotFound = errors.New("account not found")
	// ErrOutgoingNotFound 外发记录未找到错误
	ErrOutgoingNotFound = errors.New("outgoing email not found")
	// ErrDuplicateAccount 邮箱地址或令牌冲突错误
	ErrDuplicateAccount = errors.New("account already exists")
)

// AccountRepository 定义邮箱账户数据存取操作。
type AccountRepository interface {
	CreateAccount(account *domain.EmailAccount) error
	GetAccountByPaymentHash(hash string) (*domain.EmailAccount, error)
	GetAccountByRenewalHash(hash string) (*domain.EmailAccount, error)
	GetAccountByToken(token string) (*domain.EmailAccount, error)
	GetAccountByAddress(address string) (*domain.EmailAccount, error)
	UpdateAccount(account *domain.EmailAccount) error
	ListStalePendingAccounts(before time.Time) ([]domain.EmailAccount, error)
	ListAccountsPastGrace(now time.Time) ([]domain.EmailAccount, error) // 已支付且过期超出宽限期的账户
}

// OutgoingRepository 定义外发邮件数据存取操作。
type OutgoingRepository interface {
	CreateOutgoingEmail(email *domain.PendingOutgoingEmail) error
	GetOutgoingByPaymentHash(hash string) (*domain.PendingOutgoingEmail, error)
	UpdateOutgoingEmail(email *domain.PendingOutgoingEmail) error
	// MarkOutgoingPaid 只翻转支付状态，不触碰投递相关字段
	MarkOutgoingPaid(hash string) error
	// MarkOutgoingSent 条件置为已投递，已处于 sent 终态时返回 false 不做任何修改
	MarkOutgoingSent(hash string, sentAt time.Time) (bool, error)
	// MarkOutgoingDeliveryFailed 记录一次投递失败并递增重试计数
	MarkOutgoingDeliveryFailed(hash string, deliveryError string, at time.Time) error
	ListRecentSends(sender string, limit int) ([]domain.PendingOutgoingEmail, error)
	ListFailedDeliveries(since time.Time) ([]domain.PendingOutgoingEmail, error)   // 启动恢复: 投递失败的记录
	ListPaidUndelivered(since time.Time) ([]domain.PendingOutgoingEmail, error)    // 启动恢复: 已支付但未尝试投递的记录
	ExpireStaleOutgoing(now time.Time) (int, error)                                // TTL 清扫，返回标记数量
	DeleteOutgoingOlderThan(before time.Time) (int, error)                         // 保留期清扫，返回删除数量
}

// StatsRepository 定义发送统计聚合操作。
type StatsRepository interface {
	// RecordSendOutcome 按月累加发送结果，sent 为 true 时累加收入
	RecordSendOutcome(yearMonth string, sent bool, revenueSats int64) error
	GetSendStats(yearMonth string) (*domain.SendStats, error)
}

// Store 定义完整的存储接口。
type Store interface {
	AccountRepository
	OutgoingRepository
	StatsRepository

	// 工具方法
	Close() error
	Health() error
}
