package server

import (
	"path"
	"strings"

	"github.com/gin-gonic/gin"
)

// mountPath turns a configured API prefix into "" or a cleaned "/a/b".
func mountPath(prefix string) string {
	p := path.Clean("/" + strings.Trim(strings.TrimSpace(prefix), "/"))
	if p == "/" {
		return ""
	}
	return p
}

// validProcessName accepts lower-case supervisor names such as xmrig_proxy.
func validProcessName(s string) bool {
	if s == "" || len(s) > 32 {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' && r != '-'
	}) < 0
}

// writeJSON renders v as the response body. Status and credential state
// change between calls, so responses are never cached.
func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Cache-Control", "no-store")
	c.JSON(code, v)
}
