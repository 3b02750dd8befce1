package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// MailConfig 定义邮件域名与 IMAP/SMTP 接入配置
type MailConfig struct {
	Domain       string // 邮箱域名，如 "lnemail.net"
	IMAPHost     string // IMAP 服务器地址
	IMAPPort     int    // IMAP 端口，默认 143
	SMTPHost     string // SMTP 提交服务器地址
	SMTPPort     int    // SMTP 端口，默认 587
	SMTPStartTLS bool   // 是否使用 STARTTLS，默认 true
}

// AgentConfig 定义邮件代理（mail-agent）文件交换目录配置
//
// 核心进程通过共享目录向代理进程投递 JSON 请求，代理在响应目录写回结果。
type AgentConfig struct {
	RequestsDir  string        // 请求文件目录
	ResponsesDir string        // 响应文件目录
	Timeout      time.Duration // 等待响应的最长时间，默认 30s
	PollInterval time.Duration // 轮询响应文件的间隔，默认 500ms
}

// LNDConfig 定义 Lightning 节点 REST 接口配置
type LNDConfig struct {
	RESTHost      string        // LND REST 地址，如 "https://lnd:8080"
	MacaroonPath  string        // macaroon 凭证文件路径
	TLSCertPath   string        // TLS 证书路径，留空则使用系统根证书
	InvoiceExpiry time.Duration // 发票有效期，默认 1h
	LookupRate    float64       // 结算查询限速（每秒次数），默认 5
}

// PricingConfig 定义各操作的 Lightning 定价（单位：聪）
type PricingConfig struct {
	AccountPriceSats     int64 // 创建账户价格，默认 994
	SendPriceSats        int64 // 发送一封邮件的价格，默认 100
	RenewalPriceSatsYear int64 // 续期一年的价格，默认 994
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server   ServerConfig   // HTTP 服务器配置
	Mail     MailConfig     // 邮件接入配置
	Agent    AgentConfig    // 邮件代理配置
	LND      LNDConfig      // Lightning 节点配置
	Pricing  PricingConfig  // 定价配置
	CORS     CORSConfig     // 跨域配置
	Log      LogConfig      // 日志配置
	Database DatabaseConfig // 数据库配置
	Redis    RedisConfig    // Redis 配置
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: LNEMAIL_
// 例如: LNEMAIL_SERVER_HOST, LNEMAIL_LND_REST_HOST
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("lnemail")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("mail.domain", "lnemail.net")
	viper.SetDefault("mail.imap_host", "mail.lnemail.net")
	viper.SetDefault("mail.imap_port", 143)
	viper.SetDefault("mail.smtp_host", "mail.lnemail.net")
	viper.SetDefault("mail.smtp_port", 587)
	viper.SetDefault("mail.smtp_starttls", true)
	viper.SetDefault("agent.requests_dir", "/shared/requests")
	viper.SetDefault("agent.responses_dir", "/shared/responses")
	viper.SetDefault("agent.timeout", "30s")
	viper.SetDefault("agent.poll_interval", "500ms")
	viper.SetDefault("lnd.rest_host", "https://lnd:8080")
	viper.SetDefault("lnd.macaroon_path", "/lnd/data/chain/bitcoin/mainnet/invoices.macaroon")
	viper.SetDefault("lnd.tls_cert_path", "")
	viper.SetDefault("lnd.invoice_expiry", "1h")
	viper.SetDefault("lnd.lookup_rate", 5.0)
	viper.SetDefault("pricing.account_price_sats", 994)
	viper.SetDefault("pricing.send_price_sats", 100)
	viper.SetDefault("pricing.renewal_price_sats_year", 994)
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	mailDomain := strings.ToLower(strings.TrimSpace(viper.GetString("mail.domain")))
	if mailDomain == "" {
		return nil, fmt.Errorf("mail.domain must not be empty")
	}

	agentTimeout, err := time.ParseDuration(viper.GetString("agent.timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid agent.timeout: %w", err)
	}

	pollInterval, err := time.ParseDuration(viper.GetString("agent.poll_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid agent.poll_interval: %w", err)
	}

	invoiceExpiry, err := time.ParseDuration(viper.GetString("lnd.invoice_expiry"))
	if err != nil {
		return nil, fmt.Errorf("invalid lnd.invoice_expiry: %w", err)
	}

	accountPrice := viper.GetInt64("pricing.account_price_sats")
	sendPrice := viper.GetInt64("pricing.send_price_sats")
	renewalPrice := viper.GetInt64("pricing.renewal_price_sats_year")
	if accountPrice <= 0 || sendPrice <= 0 || renewalPrice <= 0 {
		return nil, fmt.Errorf("pricing values must be positive")
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Mail: MailConfig{
			Domain:       mailDomain,
			IMAPHost:     viper.GetString("mail.imap_host"),
			IMAPPort:     viper.GetInt("mail.imap_port"),
			SMTPHost:     viper.GetString("mail.smtp_host"),
			SMTPPort:     viper.GetInt("mail.smtp_port"),
			SMTPStartTLS: viper.GetBool("mail.smtp_starttls"),
		},
		Agent: AgentConfig{
			RequestsDir:  viper.GetString("agent.requests_dir"),
			ResponsesDir: viper.GetString("agent.responses_dir"),
			Timeout:      agentTimeout,
			PollInterval: pollInterval,
		},
		LND: LNDConfig{
			RESTHost:      viper.GetString("lnd.rest_host"),
			MacaroonPath:  viper.GetString("lnd.macaroon_path"),
			TLSCertPath:   viper.GetString("lnd.tls_cert_path"),
			InvoiceExpiry: invoiceExpiry,
			LookupRate:    viper.GetFloat64("lnd.lookup_rate"),
		},
		Pricing: PricingConfig{
			AccountPriceSats:     accountPrice,
			SendPriceSats:        sendPrice,
			RenewalPriceSatsYear: renewalPrice,
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
	}

	return cfg, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env（用于从 backend/ 子目录运行的情况）
//
// 注意：已存在的环境变量优先级更高，不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
