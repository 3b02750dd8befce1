package provisioner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lnemail/backend/internal/config"
)

func newTestAgent(t *testing.T) (*Agent, string, string) {
	t.Helper()

	requestsDir := filepath.Join(t.TempDir(), "requests")
	responsesDir := filepath.Join(t.TempDir(), "responses")

	agent, err := NewAgent(config.AgentConfig{
		RequestsDir:  requestsDir,
		ResponsesDir: responsesDir,
		Timeout:      2 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	return agent, requestsDir, responsesDir
}

// runFakeAgent 模拟代理进程: 轮询请求目录，校验请求内容并写回响应
func runFakeAgent(t *testing.T, requestsDir, responsesDir string, handle func(req agentRequest) agentResponse) {
	t.Helper()

	go func() {
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			entries, err := os.ReadDir(requestsDir)
			if err != nil {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			for _, entry := range entries {
				if filepath.Ext(entry.Name()) != ".json" {
					continue
				}
				raw, err := os.ReadFile(filepath.Join(requestsDir, entry.Name()))
				if err != nil {
					continue
				}
				var req agentRequest
				if err := json.Unmarshal(raw, &req); err != nil {
					continue
				}

				resp := handle(req)
				payload, _ := json.Marshal(resp)
				os.WriteFile(filepath.Join(responsesDir, req.ID+".json"), payload, 0666)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
}

func TestAgentRoundTrip(t *testing.T) {
	t.Run("开通邮箱成功往返", func(t *testing.T) {
		agent, requestsDir, responsesDir := newTestAgent(t)

		reqCh := make(chan agentRequest, 1)
		runFakeAgent(t, requestsDir, responsesDir, func(req agentRequest) agentResponse {
			reqCh <- req
			return agentResponse{Success: true}
		})

		err := agent.CreateMailbox(context.Background(), "swiftraven042@lnemail.net", "secret")

		require.NoError(t, err)
		received := <-reqCh
		assert.Equal(t, "create", received.Action)
		assert.Equal(t, "swiftraven042@lnemail.net", received.Params["email_address"])
		assert.Equal(t, "secret", received.Params["password"])
		assert.NotEmpty(t, received.ID)

		// 消费后双方工件均被清理
		assertDirEmpty(t, requestsDir)
		assertDirEmpty(t, responsesDir)
	})

	t.Run("代理报告失败转换为错误", func(t *testing.T) {
		agent, requestsDir, responsesDir := newTestAgent(t)

		runFakeAgent(t, requestsDir, responsesDir, func(req agentRequest) agentResponse {
			return agentResponse{Success: false, Error: "user exists"}
		})

		err := agent.CreateMailbox(context.Background(), "dup@lnemail.net", "secret")

		assert.ErrorIs(t, err, ErrAgentFailure)
		assert.Contains(t, err.Error(), "user exists")
	})

	t.Run("删除邮箱动作与参数", func(t *testing.T) {
		agent, requestsDir, responsesDir := newTestAgent(t)

		reqCh := make(chan agentRequest, 1)
		runFakeAgent(t, requestsDir, responsesDir, func(req agentRequest) agentResponse {
			reqCh <- req
			return agentResponse{Success: true}
		})

		err := agent.DeleteMailbox(context.Background(), "old@lnemail.net")

		require.NoError(t, err)
		received := <-reqCh
		assert.Equal(t, "delete", received.Action)
		assert.Equal(t, "old@lnemail.net", received.Params["email_address"])
	})
}

func TestAgentTimeout(t *testing.T) {
	t.Run("无响应时超时并清理请求工件", func(t *testing.T) {
		requestsDir := filepath.Join(t.TempDir(), "requests")
		responsesDir := filepath.Join(t.TempDir(), "responses")

		agent, err := NewAgent(config.AgentConfig{
			RequestsDir:  requestsDir,
			ResponsesDir: responsesDir,
			Timeout:      50 * time.Millisecond,
			PollInterval: 10 * time.Millisecond,
		}, zap.NewNop())
		require.NoError(t, err)

		err = agent.CreateMailbox(context.Background(), "nobody@lnemail.net", "secret")

		assert.ErrorIs(t, err, ErrTimeout)
		assertDirEmpty(t, requestsDir)
	})

	t.Run("上下文取消提前返回", func(t *testing.T) {
		agent, _, _ := newTestAgent(t)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := agent.CreateMailbox(ctx, "nobody@lnemail.net", "secret")

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
