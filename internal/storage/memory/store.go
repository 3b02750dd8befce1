// Package memory 提供基于内存的存储实现，用于开发环境和单元测试。
package memory

import (
	"sort"
	"sync"
	"time"

	"lnemail/backend/internal/domain"
	"lnemail/backend/internal/storage"
)

// Store 内存存储实现，通过读写锁保证并发安全
type Store struct {
	mu sync.RWMutex

	nextAccountID  uint
	nextOutgoingID uint

	accountsByHash    map[string]*domain.EmailAccount
	accountsByToken   map[string]*domain.EmailAccount
	accountsByAddress map[string]*domain.EmailAccount

	outgoingByHash map[string]*domain.PendingOutgoingEmail

	statsByMonth map[string]*domain.SendStats
}

// NewStore 创建内存存储
func NewStore() *Store {
	return &Store{
		nextAccountID:     1,
		nextOutgoingID:    1,
		accountsByHash:    make(map[string]*domain.EmailAccount),
		accountsByToken:   make(map[string]*domain.EmailAccount),
		accountsByAddress: make(map[string]*domain.EmailAccount),
		outgoingByHash:    make(map[string]*domain.PendingOutgoingEmail),
		statsByMonth:      make(map[string]*domain.SendStats),
	}
}

// ---------- 账户 ----------

// CreateAccount 持久化一个新账户
func (s *Store) CreateAccount(account *domain.EmailAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accountsByAddress[account.EmailAddress]; exists {
		return storage.ErrDuplicateAccount
	}
	if _, exists := s.accountsByToken[account.AccessToken]; exists {
		return storage.ErrDuplicateAccount
	}

	account.ID = s.nextAccountID
	s.nextAccountID++

	clone := cloneAccount(account)
	s.accountsByHash[account.PaymentHash] = clone
	s.accountsByToken[account.AccessToken] = clone
	s.accountsByAddress[account.EmailAddress] = clone
	return nil
}

// GetAccountByPaymentHash 按创建发票哈希查找账户
func (s *Store) GetAccountByPaymentHash(hash string) (*domain.EmailAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accountsByHash[hash]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

// GetAccountByRenewalHash 按在途续期发票哈希查找账户
func (s *Store) GetAccountByRenewalHash(hash string) (*domain.EmailAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, account := range s.accountsByHash {
		if account.RenewalPaymentHash != nil && *account.RenewalPaymentHash == hash {
			return cloneAccount(account), nil
		}
	}
	return nil, storage.ErrAccountNotFound
}

// GetAccountByToken 按访问令牌查找账户
func (s *Store) GetAccountByToken(token string) (*domain.EmailAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accountsByToken[token]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

// GetAccountByAddress 按邮箱地址查找账户
func (s *Store) GetAccountByAddress(address string) (*domain.EmailAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accountsByAddress[address]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

// UpdateAccount 整体覆盖更新账户
func (s *Store) UpdateAccount(account *domain.EmailAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.accountsByHash[account.PaymentHash]
	if !ok {
		return storage.ErrAccountNotFound
	}

	*existing = *cloneAccount(account)
	return nil
}

// ListStalePendingAccounts 列出在给定时刻前创建且仍未支付的账户
func (s *Store) ListStalePendingAccounts(before time.Time) ([]domain.EmailAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []domain.EmailAccount
	for _, account := range s.accountsByHash {
		if account.PaymentStatus == domain.PaymentPending && account.CreatedAt.Before(before) {
			stale = append(stale, *cloneAccount(account))
		}
	}
	return stale, nil
}

// ListAccountsPastGrace 列出已支付且过期超出宽限期的账户
func (s *Store) ListAccountsPastGrace(now time.Time) ([]domain.EmailAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []domain.EmailAccount
	for _, account := range s.accountsByHash {
		if account.PaymentStatus == domain.PaymentPaid &&
			now.After(account.ExpiresAt.Add(domain.GracePeriod)) {
			expired = append(expired, *cloneAccount(account))
		}
	}
	return expired, nil
}

// ---------- 外发邮件 ----------

// CreateOutgoingEmail 持久化一条外发记录
func (s *Store) CreateOutgoingEmail(email *domain.PendingOutgoingEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email.ID = s.nextOutgoingID
	s.nextOutgoingID++

	s.outgoingByHash[email.PaymentHash] = cloneOutgoing(email)
	return nil
}

// GetOutgoingByPaymentHash 按发票哈希查找外发记录
func (s *Store) GetOutgoingByPaymentHash(hash string) (*domain.PendingOutgoingEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email, ok := s.outgoingByHash[hash]
	if !ok {
		return nil, storage.ErrOutgoingNotFound
	}
	return cloneOutgoing(email), nil
}

// UpdateOutgoingEmail 整体覆盖更新外发记录
func (s *Store) UpdateOutgoingEmail(email *domain.PendingOutgoingEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.outgoingByHash[email.PaymentHash]
	if !ok {
		return storage.ErrOutgoingNotFound
	}

	*existing = *cloneOutgoing(email)
	return nil
}

// MarkOutgoingPaid 只翻转支付状态，不触碰投递相关字段
func (s *Store) MarkOutgoingPaid(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email, ok := s.outgoingByHash[hash]
	if !ok {
		return storage.ErrOutgoingNotFound
	}

	email.Status = domain.PaymentPaid
	return nil
}

// MarkOutgoingSent 条件置为已投递，已是 sent 终态时返回 false
func (s *Store) MarkOutgoingSent(hash string, sentAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email, ok := s.outgoingByHash[hash]
	if !ok {
		return false, storage.ErrOutgoingNotFound
	}
	if email.DeliveryStatus == domain.DeliverySent {
		return false, nil
	}

	t := sentAt
	email.DeliveryStatus = domain.DeliverySent
	email.SentAt = &t
	email.DeliveryError = ""
	return true, nil
}

// MarkOutgoingDeliveryFailed 记录一次投递失败并递增重试计数
func (s *Store) MarkOutgoingDeliveryFailed(hash string, deliveryError string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email, ok := s.outgoingByHash[hash]
	if !ok {
		return storage.ErrOutgoingNotFound
	}

	t := at
	email.DeliveryStatus = domain.DeliveryFailed
	email.DeliveryError = deliveryError
	email.RetryCount++
	email.LastRetryAt = &t
	email.SentAt = nil
	return nil
}

// ListRecentSends 按创建时间倒序列出某发件人最近的外发记录
func (s *Store) ListRecentSends(sender string, limit int) ([]domain.PendingOutgoingEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sends []domain.PendingOutgoingEmail
	for _, email := range s.outgoingByHash {
		if email.SenderEmail == sender {
			sends = append(sends, *cloneOutgoing(email))
		}
	}

	sort.Slice(sends, func(i, j int) bool {
		return sends[i].CreatedAt.After(sends[j].CreatedAt)
	})

	if limit > 0 && len(sends) > limit {
		sends = sends[:limit]
	}
	return sends, nil
}

// ListFailedDeliveries 列出给定时刻之后创建的投递失败记录
func (s *Store) ListFailedDeliveries(since time.Time) ([]domain.PendingOutgoingEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var failed []domain.PendingOutgoingEmail
	for _, email := range s.outgoingByHash {
		if email.Status == domain.PaymentPaid &&
			email.DeliveryStatus == domain.DeliveryFailed &&
			email.CreatedAt.After(since) {
			failed = append(failed, *cloneOutgoing(email))
		}
	}
	return failed, nil
}

// ListPaidUndelivered 列出给定时刻之后创建的已支付但从未尝试投递的记录
func (s *Store) ListPaidUndelivered(since time.Time) ([]domain.PendingOutgoingEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []domain.PendingOutgoingEmail
	for _, email := range s.outgoingByHash {
		if email.Status == domain.PaymentPaid &&
			email.DeliveryStatus == domain.DeliveryPending &&
			email.CreatedAt.After(since) {
			pending = append(pending, *cloneOutgoing(email))
		}
	}
	return pending, nil
}

// ExpireStaleOutgoing 将 TTL 已过且仍未支付的记录标记为 expired
func (s *Store) ExpireStaleOutgoing(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, email := range s.outgoingByHash {
		if email.Status == domain.PaymentPending && now.After(email.ExpiresAt) {
			email.Status = domain.PaymentExpired
			count++
		}
	}
	return count, nil
}

// DeleteOutgoingOlderThan 无条件删除早于给定时刻创建的外发记录
func (s *Store) DeleteOutgoingOlderThan(before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for hash, email := range s.outgoingByHash {
		if email.CreatedAt.Before(before) {
			delete(s.outgoingByHash, hash)
			count++
		}
	}
	return count, nil
}

// ---------- 发送统计 ----------

// RecordSendOutcome 按月累加发送结果
func (s *Store) RecordSendOutcome(yearMonth string, sent bool, revenueSats int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, ok := s.statsByMonth[yearMonth]
	if !ok {
		stats = &domain.SendStats{YearMonth: yearMonth}
		s.statsByMonth[yearMonth] = stats
	}

	if sent {
		stats.TotalSent++
		stats.TotalRevenueSats += revenueSats
	} else {
		stats.TotalFailed++
	}
	stats.UpdatedAt = time.Now()
	return nil
}

// GetSendStats 读取某月的聚合统计
func (s *Store) GetSendStats(yearMonth string) (*domain.SendStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, ok := s.statsByMonth[yearMonth]
	if !ok {
		return &domain.SendStats{YearMonth: yearMonth}, nil
	}

	clone := *stats
	return &clone, nil
}

// ---------- 工具方法 ----------

// Close 关闭存储（内存实现为空操作）
func (s *Store) Close() error {
	return nil
}

// Health 存储健康检查（内存实现恒为健康）
func (s *Store) Health() error {
	return nil
}

func cloneAccount(account *domain.EmailAccount) *domain.EmailAccount {
	clone := *account
	if account.OriginalPaymentRequest != nil {
		v := *account.OriginalPaymentRequest
		clone.OriginalPaymentRequest = &v
	}
	if account.RenewalPaymentHash != nil {
		v := *account.RenewalPaymentHash
		clone.RenewalPaymentHash = &v
	}
	return &clone
}

func cloneOutgoing(email *domain.PendingOutgoingEmail) *domain.PendingOutgoingEmail {
	clone := *email
	if email.SentAt != nil {
		v := *email.SentAt
		clone.SentAt = &v
	}
	if email.LastRetryAt != nil {
		v := *email.LastRetryAt
		clone.LastRetryAt = &v
	}
	return &clone
}
