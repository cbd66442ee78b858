package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

const (
	HeaderOrg       = "X-Org-ID"
	contextOrgIDKey = "org_id"
)

// OrgContext requires the X-Org-ID header on every API call.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderOrg))
		if raw == "" {
			AbortWithError(c, newValidationError("organization", "required", "X-Org-ID header is required"))
			return
		}
		id, err := snowflake.ParseString(raw)
		if err != nil || id <= 0 {
			AbortWithError(c, newValidationError("organization", "invalid", "X-Org-ID must be a numeric id"))
			return
		}
		c.Set(contextOrgIDKey, id)
		c.Next()
	}
}

func orgID(c *gin.Context) snowflake.ID {
	if v, ok := c.Get(contextOrgIDKey); ok {
		if id, ok := v.(snowflake.ID); ok {
			return id
		}
	}
	return 0
}
