package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	alertdomain "github.com/smallbiznis/railzway-alerts/internal/alert/domain"
)

type createAlertBatchRequest struct {
	Alerts []alertdomain.CreateRequest `json:"alerts"`
}

type batchItemError struct {
	Index int          `json:"index"`
	Error errorPayload `json:"error"`
}

type createAlertBatchResponse struct {
	Data   []alertdomain.Response `json:"data"`
	Errors []batchItemError       `json:"errors"`
}

func (s *Server) CreateAlert(c *gin.Context) {
	var req alertdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OrganizationID = orgID(c).String()

	resp, err := s.alertSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

// CreateAlertBatch answers 200 even when some entries fail; each failure is
// reported next to the index of the entry that caused it.
func (s *Server) CreateAlertBatch(c *gin.Context) {
	var req createAlertBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Alerts) == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.alertSvc.CreateBatch(c.Request.Context(), orgID(c).String(), req.Alerts)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := createAlertBatchResponse{
		Data:   result.Created,
		Errors: make([]batchItemError, 0, len(result.Errors)),
	}
	if resp.Data == nil {
		resp.Data = []alertdomain.Response{}
	}
	for idx, itemErr := range result.Errors {
		_, payload := mapError(itemErr)
		resp.Errors = append(resp.Errors, batchItemError{Index: idx, Error: payload})
	}
	sort.Slice(resp.Errors, func(i, j int) bool { return resp.Errors[i].Index < resp.Errors[j].Index })

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListSubscriptionAlerts(c *gin.Context) {
	items, err := s.alertSvc.List(c.Request.Context(), orgID(c).String(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) GetSubscriptionAlert(c *gin.Context) {
	item, err := s.alertSvc.GetByCode(
		c.Request.Context(),
		orgID(c).String(),
		strings.TrimSpace(c.Param("id")),
		strings.TrimSpace(c.Param("code")),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) DestroySubscriptionAlerts(c *gin.Context) {
	deleted, err := s.alertSvc.DestroyAll(c.Request.Context(), orgID(c).String(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (s *Server) ListWalletAlerts(c *gin.Context) {
	items, err := s.alertSvc.ListWalletAlerts(c.Request.Context(), orgID(c).String(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) ListTriggeredAlerts(c *gin.Context) {
	page, err := parsePagination(c.Query("page_token"), c.Query("page_size"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.alertSvc.ListTriggered(c.Request.Context(), orgID(c).String(), strings.TrimSpace(c.Param("id")), page)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
