// Package provisioner 通过共享目录与邮件代理进程交换请求，完成邮箱的开通与删除。
//
// 协议: 以唯一 ID 命名的 JSON 请求文件落入请求目录，旁置 .lock 哨兵文件；
// 代理在响应目录写回同名 JSON。本端轮询响应，读取后清理双方全部工件。
// 代理可能数秒后才响应，调用方必须容忍有界等待与超时重试。
package provisioner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lnemail/backend/internal/config"
)

var (
	// ErrTimeout 代理在限定时间内未响应
	ErrTimeout = errors.New("mail agent response timeout")
	// ErrAgentFailure 代理明确报告操作失败
	ErrAgentFailure = errors.New("mail agent reported failure")
)

// Agent 邮件代理客户端
type Agent struct {
	requestsDir  string
	responsesDir string
	timeout      time.Duration
	pollInterval time.Duration
	log          *zap.Logger
}

// NewAgent 创建代理客户端并确保交换目录存在
func NewAgent(cfg config.AgentConfig, log *zap.Logger) (*Agent, error) {
	for _, dir := range []string{cfg.RequestsDir, cfg.ResponsesDir} {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return nil, fmt.Errorf("create agent dir %s: %w", dir, err)
		}
	}

	return &Agent{
		requestsDir:  cfg.RequestsDir,
		responsesDir: cfg.ResponsesDir,
		timeout:      cfg.Timeout,
		pollInterval: cfg.PollInterval,
		log:          log,
	}, nil
}

type agentRequest struct {
	ID        string            `json:"id"`
	Action    string            `json:"action"`
	Params    map[string]string `json:"params"`
	Timestamp float64           `json:"timestamp"`
}

type agentResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// CreateMailbox 请求代理开通邮箱账户
func (a *Agent) CreateMailbox(ctx context.Context, address, password string) error {
	return a.send(ctx, "create", map[string]string{
		"email_address": address,
		"password":      password,
	})
}

// DeleteMailbox 请求代理删除邮箱账户
func (a *Agent) DeleteMailbox(ctx context.Context, address string) error {
	return a.send(ctx, "delete", map[string]string{
		"email_address": address,
	})
}

func (a *Agent) send(ctx context.Context, action string, params map[string]string) error {
	requestID := uuid.NewString()

	payload, err := json.Marshal(agentRequest{
		ID:        requestID,
		Action:    action,
		Params:    params,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	})
	if err != nil {
		return fmt.Errorf("marshal agent request: %w", err)
	}

	requestPath := filepath.Join(a.requestsDir, requestID+".json")
	requestLock := requestPath + ".lock"

	// 先落锁哨兵，再写请求本体，代理按此顺序感知完整请求
	if err := os.WriteFile(requestLock, nil, 0666); err != nil {
		return fmt.Errorf("write request lock: %w", err)
	}
	if err := os.WriteFile(requestPath, payload, 0666); err != nil {
		removeQuiet(requestLock)
		return fmt.Errorf("write request file: %w", err)
	}

	a.log.Debug("代理请求已投递",
		zap.String("request_id", requestID),
		zap.String("action", action))

	responsePath := filepath.Join(a.responsesDir, requestID+".json")
	responseLock := responsePath + ".lock"

	deadline := time.Now().Add(a.timeout)
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		raw, err := os.ReadFile(responsePath)
		if err == nil {
			// 消费后清理双方全部工件
			removeQuiet(responsePath)
			removeQuiet(responseLock)
			removeQuiet(requestPath)
			removeQuiet(requestLock)

			var resp agentResponse
			if err := json.Unmarshal(raw, &resp); err != nil {
				return fmt.Errorf("decode agent response: %w", err)
			}
			if !resp.Success {
				if resp.Error == "" {
					resp.Error = "unknown error"
				}
				return fmt.Errorf("%w: %s", ErrAgentFailure, resp.Error)
			}
			return nil
		}
		if !os.IsNotExist(err) {
			a.log.Warn("读取代理响应失败", zap.String("request_id", requestID), zap.Error(err))
		}

		if time.Now().After(deadline) {
			removeQuiet(requestPath)
			removeQuiet(requestLock)
			return fmt.Errorf("%w: action %s after %s", ErrTimeout, action, a.timeout)
		}

		select {
		case <-ctx.Done():
			removeQuiet(requestPath)
			removeQuiet(requestLock)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		// 共享目录下的残留文件由代理侧的周期清理兜底
		_ = err
	}
}
