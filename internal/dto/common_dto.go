package dto

// PaginationMeta captures pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

// NewPaginationMeta computes the page count for total items.
func NewPaginationMeta(page, pageSize int, total int64) PaginationMeta {
	pages := 0
	if pageSize > 0 {
		pages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return PaginationMeta{Page: page, PageSize: pageSize, TotalItems: total, TotalPages: pages}
}
