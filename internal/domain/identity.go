package domain

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
)

// 随机邮箱地址的词库，组合模式: 形容词/动词/颜色/科技词 + 名词 + 三位数字
var (
	adjectives = []string{
		"swift", "nimble", "quiet", "brave", "wise", "calm", "keen", "bold",
		"agile", "sharp", "mighty", "gentle", "clever", "witty", "cosmic",
		"mystic", "daring", "vibrant", "radiant", "serene", "royal", "silent",
		"golden", "silver", "crystal", "hidden", "ancient", "stellar", "dreamy",
		"lively", "eager", "wild", "fierce", "noble", "rapid", "vivid",
		"subtle", "lucid", "flowing", "steady", "proud", "humble", "bright",
		"dark", "sleek", "smooth", "rugged", "electric", "magnetic",
	}

	nouns = []string{
		"raven", "falcon", "wolf", "river", "peak", "path", "spark", "wave",
		"cloud", "forest", "phoenix", "dragon", "tiger", "eagle", "lion",
		"bear", "shark", "hawk", "panther", "fox", "pixel", "byte", "data",
		"node", "circuit", "cipher", "pulse", "nexus", "orbit", "prism",
		"puma", "lynx", "reef", "delta", "echo", "summit", "cove", "dune",
		"mesa", "fjord", "gem", "crystal", "dawn", "dusk", "shadow", "flame",
		"frost", "storm", "star", "comet",
	}

	verbs = []string{
		"run", "jump", "fly", "swim", "dance", "sing", "code", "build",
		"create", "design", "spark", "glow", "shine", "blast", "zoom",
		"drift", "glide", "forge", "craft", "blend", "hack", "dash", "pulse",
		"surge", "boost", "weave", "orbit", "morph", "shift", "flow", "beam",
		"flash", "soar", "dive", "climb", "prowl", "hunt", "seek", "find",
		"explore",
	}

	colors = []string{
		"red", "blue", "green", "black", "white", "gold", "silver", "azure",
		"amber", "crimson", "indigo", "violet", "teal", "coral", "jade",
		"ruby", "onyx", "sapphire", "emerald", "topaz", "bronze", "copper",
		"platinum", "obsidian", "turquoise", "amethyst", "cobalt", "scarlet",
		"ebony", "ivory",
	}

	techWords = []string{
		"cyber", "crypto", "pixel", "byte", "data", "node", "web", "net",
		"cloud", "tech", "digital", "binary", "quantum", "nano", "meta",
		"vector", "neural", "matrix", "proxy", "signal", "laser", "plasma",
		"fusion", "solar", "lunar", "cosmic", "stellar", "astro", "hyper",
		"mega", "echo", "pulse", "wave", "spectrum", "atomic", "ionic",
		"molecular", "circuit", "chip",
	}
)

// RandomLocalPart 生成一个可读的随机本地部分，如 "swiftraven042"
func RandomLocalPart() string {
	var prefix string
	switch randomIndex(4) {
	case 0:
		prefix = pickWord(adjectives)
	case 1:
		prefix = pickWord(verbs)
	case 2:
		prefix = pickWord(colors)
	default:
		prefix = pickWord(techWords)
	}

	digits := fmt.Sprintf("%03d", randomIndex(1000))
	return prefix + pickWord(nouns) + digits
}

// RandomEmailAddress 在给定域名下生成随机邮箱地址
func RandomEmailAddress(domain string) string {
	return RandomLocalPart() + "@" + domain
}

// NewAccessToken 生成账户访问令牌 (32 随机字节，URL 安全 base64)
func NewAccessToken() string {
	return randomToken(32)
}

// NewMailboxPassword 生成邮箱密码 (16 随机字节，URL 安全 base64)
func NewMailboxPassword() string {
	return randomToken(16)
}

func randomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand 不可用属于环境级故障，无法降级
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

func randomIndex(n int) int {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return int(idx.Int64())
}

func pickWord(words []string) string {
	return words[randomIndex(len(words))]
}
