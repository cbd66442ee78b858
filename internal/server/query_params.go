package server

import (
	"strconv"
	"strings"

	"github.com/smallbiznis/railzway-alerts/pkg/db/pagination"
)

func parsePagination(pageToken, pageSize string) (pagination.Pagination, error) {
	page := pagination.Pagination{PageToken: strings.TrimSpace(pageToken)}
	if trimmed := strings.TrimSpace(pageSize); trimmed != "" {
		size, err := strconv.Atoi(trimmed)
		if err != nil || size <= 0 {
			return page, newValidationError("page_size", "invalid", "page_size must be a positive integer")
		}
		page.PageSize = size
	}
	return page.Normalize(), nil
}
