package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/railzway-alerts/internal/usage/domain"
	walletdomain "github.com/smallbiznis/railzway-alerts/internal/wallet/domain"
)

func (s *Server) ApplyUsage(c *gin.Context) {
	var req usagedomain.ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OrganizationID = orgID(c).String()
	req.SubscriptionExternalID = strings.TrimSpace(c.Param("id"))

	totals, err := s.usageSvc.Apply(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": totals})
}

func (s *Server) UpdateWalletBalance(c *gin.Context) {
	var req walletdomain.UpdateBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OrganizationID = orgID(c).String()
	req.WalletID = strings.TrimSpace(c.Param("id"))

	wallet, err := s.walletSvc.UpdateBalance(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": wallet})
}
