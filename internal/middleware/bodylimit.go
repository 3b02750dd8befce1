package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaxRequestBodyBytes 请求体上限。
// 附件限额 8MiB，base64 编码约放大 4/3，再留出 JSON 结构与正文的余量。
const MaxRequestBodyBytes = 16 << 20

// BodySizeLimit 限制请求体大小，超限返回 413
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = MaxRequestBodyBytes
	}

	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.Header("X-Max-Body-Size", fmt.Sprintf("%d", maxBytes))
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"code": http.StatusRequestEntityTooLarge,
				"msg":  "请求体过大",
			})
			return
		}

		// Content-Length 可被伪造或缺失，读取时再次兜底
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
