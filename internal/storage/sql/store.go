// Package sql 提供基于 GORM 的关系型数据库存储实现，支持 MySQL 和 PostgreSQL。
package sql

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"lnemail/backend/internal/domain"
	"lnemail/backend/internal/storage"
)

// Config SQL 存储配置
type Config struct {
	Type            string // "mysql" 或 "postgres"
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store 关系型数据库存储实现
type Store struct {
	db *gorm.DB
}

// NewStore 建立数据库连接并自动迁移表结构
func NewStore(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access underlying sql.DB: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(
		&domain.EmailAccount{},
		&domain.PendingOutgoingEmail{},
		&domain.SendStats{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// ---------- 账户 ----------

// CreateAccount 持久化一个新账户
func (s *Store) CreateAccount(account *domain.EmailAccount) error {
	if err := s.db.Create(account).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return storage.ErrDuplicateAccount
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// GetAccountByPaymentHash 按创建发票哈希查找账户
func (s *Store) GetAccountByPaymentHash(hash string) (*domain.EmailAccount, error) {
	return s.findAccount("payment_hash = ?", hash)
}

// GetAccountByRenewalHash 按在途续期发票哈希查找账户
func (s *Store) GetAccountByRenewalHash(hash string) (*domain.EmailAccount, error) {
	return s.findAccount("renewal_payment_hash = ?", hash)
}

// GetAccountByToken 按访问令牌查找账户
func (s *Store) GetAccountByToken(token string) (*domain.EmailAccount, error) {
	return s.findAccount("access_token = ?", token)
}

// GetAccountByAddress 按邮箱地址查找账户
func (s *Store) GetAccountByAddress(address string) (*domain.EmailAccount, error) {
	return s.findAccount("email_address = ?", address)
}

func (s *Store) findAccount(query string, args ...interface{}) (*domain.EmailAccount, error) {
	var account domain.EmailAccount
	if err := s.db.Where(query, args...).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrAccountNotFound
		}
		return nil, fmt.Errorf("query account: %w", err)
	}
	return &account, nil
}

// UpdateAccount 整体保存账户（包含可空字段的置空）
func (s *Store) UpdateAccount(account *domain.EmailAccount) error {
	result := s.db.Model(&domain.EmailAccount{}).
		Where("id = ?", account.ID).
		Select("email_password", "expires_at", "payment_status", "renewal_payment_hash", "renewal_years", "original_payment_request").
		Updates(account)
	if result.Error != nil {
		return fmt.Errorf("update account: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrAccountNotFound
	}
	return nil
}

// ListStalePendingAccounts 列出在给定时刻前创建且仍未支付的账户
func (s *Store) ListStalePendingAccounts(before time.Time) ([]domain.EmailAccount, error) {
	var accounts []domain.EmailAccount
	err := s.db.
		Where("payment_status = ? AND created_at < ?", domain.PaymentPending, before).
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("list stale pending accounts: %w", err)
	}
	return accounts, nil
}

// ListAccountsPastGrace 列出已支付且过期超出宽限期的账户
func (s *Store) ListAccountsPastGrace(now time.Time) ([]domain.EmailAccount, error) {
	var accounts []domain.EmailAccount
	cutoff := now.Add(-domain.GracePeriod)
	err := s.db.
		Where("payment_status = ? AND expires_at < ?", domain.PaymentPaid, cutoff).
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("list accounts past grace: %w", err)
	}
	return accounts, nil
}

// ---------- 外发邮件 ----------

// CreateOutgoingEmail 持久化一条外发记录
func (s *Store) CreateOutgoingEmail(email *domain.PendingOutgoingEmail) error {
	if err := s.db.Create(email).Error; err != nil {
		return fmt.Errorf("create outgoing email: %w", err)
	}
	return nil
}

// GetOutgoingByPaymentHash 按发票哈希查找外发记录
func (s *Store) GetOutgoingByPaymentHash(hash string) (*domain.PendingOutgoingEmail, error) {
	var email domain.PendingOutgoingEmail
	if err := s.db.Where("payment_hash = ?", hash).First(&email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrOutgoingNotFound
		}
		return nil, fmt.Errorf("query outgoing email: %w", err)
	}
	return &email, nil
}

// UpdateOutgoingEmail 整体保存外发记录
func (s *Store) UpdateOutgoingEmail(email *domain.PendingOutgoingEmail) error {
	result := s.db.Model(&domain.PendingOutgoingEmail{}).
		Where("id = ?", email.ID).
		Select("status", "delivery_status", "delivery_error", "sent_at", "retry_count", "last_retry_at").
		Updates(email)
	if result.Error != nil {
		return fmt.Errorf("update outgoing email: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrOutgoingNotFound
	}
	return nil
}

// MarkOutgoingPaid 只翻转支付状态，不触碰投递相关字段
func (s *Store) MarkOutgoingPaid(hash string) error {
	result := s.db.Model(&domain.PendingOutgoingEmail{}).
		Where("payment_hash = ?", hash).
		Update("status", domain.PaymentPaid)
	if result.Error != nil {
		return fmt.Errorf("mark outgoing paid: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrOutgoingNotFound
	}
	return nil
}

// MarkOutgoingSent 条件置为已投递，依赖行级条件更新保证至多一次生效
func (s *Store) MarkOutgoingSent(hash string, sentAt time.Time) (bool, error) {
	result := s.db.Model(&domain.PendingOutgoingEmail{}).
		Where("payment_hash = ? AND delivery_status <> ?", hash, domain.DeliverySent).
		Updates(map[string]interface{}{
			"delivery_status": domain.DeliverySent,
			"sent_at":         sentAt,
			"delivery_error":  "",
		})
	if result.Error != nil {
		return false, fmt.Errorf("mark outgoing sent: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	// 零行受影响: 要么记录不存在，要么已经是 sent 终态
	if _, err := s.GetOutgoingByPaymentHash(hash); err != nil {
		return false, err
	}
	return false, nil
}

// MarkOutgoingDeliveryFailed 记录一次投递失败并递增重试计数
func (s *Store) MarkOutgoingDeliveryFailed(hash string, deliveryError string, at time.Time) error {
	result := s.db.Model(&domain.PendingOutgoingEmail{}).
		Where("payment_hash = ?", hash).
		Updates(map[string]interface{}{
			"delivery_status": domain.DeliveryFailed,
			"delivery_error":  deliveryError,
			"retry_count":     gorm.Expr("retry_count + 1"),
			"last_retry_at":   at,
			"sent_at":         nil,
		})
	if result.Error != nil {
		return fmt.Errorf("mark outgoing delivery failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrOutgoingNotFound
	}
	return nil
}

// ListRecentSends 按创建时间倒序列出某发件人最近的外发记录
func (s *Store) ListRecentSends(sender string, limit int) ([]domain.PendingOutgoingEmail, error) {
	var emails []domain.PendingOutgoingEmail
	err := s.db.
		Where("sender_email = ?", sender).
		Order("created_at DESC").
		Limit(limit).
		Find(&emails).Error
	if err != nil {
		return nil, fmt.Errorf("list recent sends: %w", err)
	}
	return emails, nil
}

// ListFailedDeliveries 列出给定时刻之后创建的投递失败记录
func (s *Store) ListFailedDeliveries(since time.Time) ([]domain.PendingOutgoingEmail, error) {
	return s.listOutgoing("status = ? AND delivery_status = ? AND created_at > ?",
		domain.PaymentPaid, domain.DeliveryFailed, since)
}

// ListPaidUndelivered 列出给定时刻之后创建的已支付但从未尝试投递的记录
func (s *Store) ListPaidUndelivered(since time.Time) ([]domain.PendingOutgoingEmail, error) {
	return s.listOutgoing("status = ? AND delivery_status = ? AND created_at > ?",
		domain.PaymentPaid, domain.DeliveryPending, since)
}

func (s *Store) listOutgoing(query string, args ...interface{}) ([]domain.PendingOutgoingEmail, error) {
	var emails []domain.PendingOutgoingEmail
	if err := s.db.Where(query, args...).Find(&emails).Error; err != nil {
		return nil, fmt.Errorf("list outgoing emails: %w", err)
	}
	return emails, nil
}

// ExpireStaleOutgoing 将 TTL 已过且仍未支付的记录标记为 expired
func (s *Store) ExpireStaleOutgoing(now time.Time) (int, error) {
	result := s.db.Model(&domain.PendingOutgoingEmail{}).
		Where("status = ? AND expires_at < ?", domain.PaymentPending, now).
		Update("status", domain.PaymentExpired)
	if result.Error != nil {
		return 0, fmt.Errorf("expire stale outgoing: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

// DeleteOutgoingOlderThan 无条件删除早于给定时刻创建的外发记录
func (s *Store) DeleteOutgoingOlderThan(before time.Time) (int, error) {
	result := s.db.
		Where("created_at < ?", before).
		Delete(&domain.PendingOutgoingEmail{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old outgoing: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

// ---------- 发送统计 ----------

// RecordSendOutcome 按月累加发送结果，在单个事务内完成查建与累加
func (s *Store) RecordSendOutcome(yearMonth string, sent bool, revenueSats int64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		stats := domain.SendStats{YearMonth: yearMonth}
		if err := tx.Where("year_month = ?", yearMonth).FirstOrCreate(&stats).Error; err != nil {
			return fmt.Errorf("ensure stats row: %w", err)
		}

		updates := map[string]interface{}{"updated_at": time.Now()}
		if sent {
			updates["total_sent"] = gorm.Expr("total_sent + 1")
			updates["total_revenue_sats"] = gorm.Expr("total_revenue_sats + ?", revenueSats)
		} else {
			updates["total_failed"] = gorm.Expr("total_failed + 1")
		}

		if err := tx.Model(&domain.SendStats{}).
			Where("year_month = ?", yearMonth).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("increment stats: %w", err)
		}
		return nil
	})
}

// GetSendStats 读取某月的聚合统计
func (s *Store) GetSendStats(yearMonth string) (*domain.SendStats, error) {
	var stats domain.SendStats
	err := s.db.Where("year_month = ?", yearMonth).First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.SendStats{YearMonth: yearMonth}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query send stats: %w", err)
	}
	return &stats, nil
}

// ---------- 工具方法 ----------

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 数据库连通性检查
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
