package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	alertdomain "github.com/smallbiznis/railzway-alerts/internal/alert/domain"
)

// RecordSubscriptionActivity lets the rating pipeline flag a subscription
// whose usage moved without going through the usage endpoint.
func (s *Server) RecordSubscriptionActivity(c *gin.Context) {
	if err := s.activitySvc.RecordSubscriptionActivity(c.Request.Context(), orgID(c), strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) RecordWalletActivity(c *gin.Context) {
	walletID, err := alertdomain.ParseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.activitySvc.RecordWalletActivity(c.Request.Context(), orgID(c), walletID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
