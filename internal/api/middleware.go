// Package api provides the HTTP interface for the gokb service.
package api

import (
	"github.com/gin-gonic/gin"
)

// tenantHeader carries the tenant identifier resolved by the upstream auth
// layer. Auth itself is out of scope here; the header is trusted.
const tenantHeader = "X-Tenant-ID"

// DefaultTenant is used when no tenant header is present.
const DefaultTenant = "default-tenant"

const tenantKey = "tenant_id"

// TenantMiddleware resolves the tenant identifier for the request.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := c.GetHeader(tenantHeader)
		if tenant == "" {
			tenant = DefaultTenant
		}
		c.Set(tenantKey, tenant)
		c.Next()
	}
}

// tenantID returns the tenant resolved for this request.
func tenantID(c *gin.Context) string {
	return c.GetString(tenantKey)
}
