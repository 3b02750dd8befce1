// Package lightning 提供 LND 节点的 REST 客户端，负责发票创建与结算查询。
package lightning

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"lnemail/backend/internal/config"
)

// ErrUnavailable 表示节点不可达或调用失败。
// 必须与"发票尚未结算"可区分，调用方据此决定重试而非判定未支付。
var ErrUnavailable = errors.New("lightning node unavailable")

// Invoice 一张新创建的 Lightning 发票
type Invoice struct {
	PaymentHash    string // 十六进制
	PaymentRequest string // BOLT11 编码
}

// Client LND REST 客户端
type Client struct {
	host          string
	macaroonHex   string
	invoiceExpiry time.Duration
	httpClient    *http.Client
	limiter       *rate.Limiter
	log           *zap.Logger
}

// NewClient 创建 LND 客户端，读取 macaroon 凭证并配置 TLS
func NewClient(cfg config.LNDConfig, log *zap.Logger) (*Client, error) {
	macaroon, err := os.ReadFile(cfg.MacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("read macaroon: %w", err)
	}

	transport := &http.Transport{}
	if cfg.TLSCertPath != "" {
		pem, err := os.ReadFile(cfg.TLSCertPath)
		if err != nil {
			return nil, fmt.Errorf("read tls cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse tls cert: no certificates found")
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}

	lookupRate := cfg.LookupRate
	if lookupRate <= 0 {
		lookupRate = 5
	}

	return &Client{
		host:          cfg.RESTHost,
		macaroonHex:   hex.EncodeToString(macaroon),
		invoiceExpiry: cfg.InvoiceExpiry,
		httpClient: &http.Client{
			Timeout:   15 * time.Second,
			Transport: transport,
		},
		limiter: rate.NewLimiter(rate.Limit(lookupRate), 1),
		log:     log,
	}, nil
}

type addInvoiceRequest struct {
	Value  int64  `json:"value"`
	Memo   string `json:"memo"`
	Expiry int64  `json:"expiry"`
}

type addInvoiceResponse struct {
	RHash          string `json:"r_hash"` // base64
	PaymentRequest string `json:"payment_request"`
}

type lookupInvoiceResponse struct {
	Settled bool   `json:"settled"`
	State   string `json:"state"`
}

// CreateInvoice 创建一张指定金额与备注的发票
func (c *Client) CreateInvoice(ctx context.Context, amountSats int64, memo string) (*Invoice, error) {
	payload, err := json.Marshal(addInvoiceRequest{
		Value:  amountSats,
		Memo:   memo,
		Expiry: int64(c.invoiceExpiry.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal invoice request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/v1/invoices", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	var resp addInvoiceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode invoice response: %w", err)
	}

	hash, err := decodeRHash(resp.RHash)
	if err != nil {
		return nil, fmt.Errorf("decode payment hash: %w", err)
	}

	c.log.Info("发票已创建",
		zap.String("payment_hash", hash),
		zap.Int64("amount_sats", amountSats))

	return &Invoice{
		PaymentHash:    hash,
		PaymentRequest: resp.PaymentRequest,
	}, nil
}

// IsSettled 查询一张发票是否已结算，查询频率受限速器约束
func (c *Client) IsSettled(ctx context.Context, paymentHash string) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := c.do(ctx, http.MethodGet, "/v1/invoice/"+paymentHash, nil)
	if err != nil {
		return false, err
	}

	var resp lookupInvoiceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("decode lookup response: %w", err)
	}

	return resp.Settled || resp.State == "SETTLED", nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.host+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Grpc-Metadata-macaroon", c.macaroonHex)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.log.Warn("LND 调用失败",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	return raw, nil
}

// decodeRHash 将 LND 返回的 base64 支付哈希转为十六进制
func decodeRHash(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// 个别代理会改写为 URL 安全变体
		raw, err = base64.URLEncoding.DecodeString(encoded)
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(raw), nil
}
