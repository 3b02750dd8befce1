// Package scheduler 提供后台任务调度: 即时入队、延迟入队和命名周期任务。
//
// 所有对账与清扫工作都经由这里执行，HTTP 进程只入队不等待。
// 任务 panic 只记录日志，绝不杀死工作协程，否则一条记录的失败
// 会悄悄中断所有后续对账。
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job 一个后台任务
type Job func(ctx context.Context)

// Scheduler 后台任务调度器
//
// 固定数量的工作协程消费同一个任务队列，延迟任务经由计时器在
// 到期时入队，周期任务由独立的 ticker 协程驱动。
type Scheduler struct {
	workers   int
	taskQueue chan Job
	log       *zap.Logger

	mu      sync.Mutex
	stopped bool

	wg     sync.WaitGroup
	timers sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建调度器
func New(workers, queueSize int, log *zap.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		workers:   workers,
		taskQueue: make(chan Job, queueSize),
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start 启动工作协程
func (s *Scheduler) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.log.Info("任务调度器已启动", zap.Int("workers", s.workers))
}

// Enqueue 立即入队一个任务，队列满时阻塞
func (s *Scheduler) Enqueue(job Job) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case s.taskQueue <- job:
	case <-s.ctx.Done():
	}
}

// EnqueueAfter 延迟指定时长后入队一个任务
func (s *Scheduler) EnqueueAfter(delay time.Duration, job Job) {
	if delay <= 0 {
		s.Enqueue(job)
		return
	}

	s.timers.Add(1)
	go func() {
		defer s.timers.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			s.Enqueue(job)
		case <-s.ctx.Done():
		}
	}()
}

// RunEvery 注册一个命名周期任务，立即执行一次后按间隔循环
func (s *Scheduler) RunEvery(name string, interval time.Duration, job Job) {
	s.timers.Add(1)
	go func() {
		defer s.timers.Done()

		s.Enqueue(s.named(name, job))

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Enqueue(s.named(name, job))
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// Stop 停止接收新任务并等待在途任务完成
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.timers.Wait()
	s.wg.Wait()
	s.log.Info("任务调度器已停止")
}

func (s *Scheduler) named(name string, job Job) Job {
	return func(ctx context.Context) {
		start := time.Now()
		job(ctx)
		s.log.Debug("周期任务完成",
			zap.String("task", name),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case job := <-s.taskQueue:
			s.run(job)
		}
	}
}

// run 执行任务并捕获 panic
func (s *Scheduler) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("后台任务 panic", zap.Any("panic", r))
		}
	}()
	job(s.ctx)
}
