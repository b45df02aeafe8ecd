package models

// Hospital is a single entry of the public hospital directory
type Hospital struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Level    string  `json:"level,omitempty"`
	Province string  `json:"province,omitempty"`
	City     string  `json:"city,omitempty"`
	Address  string  `json:"address,omitempty"`
	Phone    string  `json:"phone,omitempty"`
	Rating   float64 `json:"rating,omitempty"`
}

// PageResult is the paginated envelope used by list endpoints
type PageResult[T any] struct {
	Total    int64 `json:"total"`
	PageNum  int   `json:"pageNum"`
	PageSize int   `json:"pageSize"`
	Pages    int   `json:"pages"`
	List     []T   `json:"list"`
}
