package middleware

import (
	"github.com/gin-gonic/gin"

	midsec "TalentLink/middleware/security"
)

// 配置选项
type RouteOpt struct {
	IsAuth bool
	Auth   midsec.Options
}

// 封装 POST
func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth {
		r.POST(path, midsec.Middleware(opt.Auth), handler)
	} else {
		r.POST(path, handler)
	}
}

// 封装 GET
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth {
		r.GET(path, midsec.Middleware(opt.Auth), handler)
	} else {
		r.GET(path, handler)
	}
}
