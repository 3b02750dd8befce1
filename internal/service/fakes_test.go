package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"lnemail/backend/internal/domain"
	"lnemail/backend/internal/lightning"
	"lnemail/backend/internal/mailer"
	"lnemail/backend/internal/scheduler"
)

// fakeGateway 可编程的发票网关
type fakeGateway struct {
	mu        sync.Mutex
	counter   int
	memos     []string
	settled   map[string]bool
	lookupErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{settled: make(map[string]bool)}
}

func (g *fakeGateway) CreateInvoice(_ context.Context, amountSats int64, memo string) (*lightning.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	g.memos = append(g.memos, memo)
	hash := fmt.Sprintf("hash-%03d", g.counter)
	return &lightning.Invoice{
		PaymentHash:    hash,
		PaymentRequest: "lnbc-" + hash,
	}, nil
}

func (g *fakeGateway) IsSettled(_ context.Context, hash string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lookupErr != nil {
		return false, g.lookupErr
	}
	return g.settled[hash], nil
}

func (g *fakeGateway) settle(hash string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settled[hash] = true
}

func (g *fakeGateway) invoices() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counter
}

func (g *fakeGateway) lastMemo() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.memos) == 0 {
		return ""
	}
	return g.memos[len(g.memos)-1]
}

// fakeProvisioner 记录开通与注销调用
type fakeProvisioner struct {
	mu         sync.Mutex
	created    map[string]string // address -> password
	deleted    []string
	failCreate bool
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{created: make(map[string]string)}
}

func (p *fakeProvisioner) CreateMailbox(_ context.Context, address, password string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failCreate {
		return errors.New("agent unavailable")
	}
	p.created[address] = password
	return nil
}

func (p *fakeProvisioner) DeleteMailbox(_ context.Context, address string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, address)
	return nil
}

func (p *fakeProvisioner) createCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.created)
}

// fakeTransport 记录 SMTP 提交，可指定前 N 次失败
type fakeTransport struct {
	mu       sync.Mutex
	sent     []mailer.OutgoingMessage
	failures int
	inbox    []domain.EmailSummary
	deleted  []string
}

func (t *fakeTransport) ListEmails(_ context.Context, _, _ string) ([]domain.EmailSummary, error) {
	return t.inbox, nil
}

func (t *fakeTransport) GetEmail(_ context.Context, _, _, id string, _ bool) (*domain.EmailContent, error) {
	return &domain.EmailContent{ID: id}, nil
}

func (t *fakeTransport) DeleteEmails(_ context.Context, _, _ string, ids []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleted = append(t.deleted, ids...)
	return nil
}

func (t *fakeTransport) Send(_ context.Context, _ string, msg mailer.OutgoingMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failures > 0 {
		t.failures--
		return errors.New("smtp connection refused")
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) sendCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

// recordingQueue 只记录任务不执行，测试直接调用对账方法
type recordingQueue struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (q *recordingQueue) Enqueue(job scheduler.Job) {
	q.EnqueueAfter(0, job)
}

func (q *recordingQueue) EnqueueAfter(delay time.Duration, _ scheduler.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delays = append(q.delays, delay)
}

func (q *recordingQueue) scheduled() []time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]time.Duration, len(q.delays))
	copy(out, q.delays)
	return out
}

func (q *recordingQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delays = nil
}

// testClock 可推进的测试时钟
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
