package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/benvon/hospital-portal/internal/models"
	"github.com/benvon/hospital-portal/internal/transport"
)

// HospitalQuery filters the hospital directory
type HospitalQuery struct {
	Keyword  string
	PageNum  int
	PageSize int
}

func (q HospitalQuery) values() url.Values {
	v := url.Values{}
	if q.Keyword != "" {
		v.Set("keyword", q.Keyword)
	}
	if q.PageNum > 0 {
		v.Set("pageNum", strconv.Itoa(q.PageNum))
	}
	if q.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	return v
}

// HospitalClient reads the hospital directory
type HospitalClient struct {
	doer Doer
}

// NewHospitalClient creates a HospitalClient
func NewHospitalClient(doer Doer) *HospitalClient {
	return &HospitalClient{doer: doer}
}

// List returns one page of the public directory
func (c *HospitalClient) List(ctx context.Context, q HospitalQuery) (*models.PageResult[models.Hospital], error) {
	return c.page(ctx, "/hospital/list", q)
}

// AdminList returns the management view; it requires an administrator bearer
func (c *HospitalClient) AdminList(ctx context.Context, q HospitalQuery) (*models.PageResult[models.Hospital], error) {
	return c.page(ctx, "/admin/hospitals", q)
}

func (c *HospitalClient) page(ctx context.Context, path string, q HospitalQuery) (*models.PageResult[models.Hospital], error) {
	var page models.PageResult[models.Hospital]
	if err := c.doer.Do(ctx, transport.Envelope{Method: http.MethodGet, Path: path, Query: q.values()}, &page); err != nil {
		return nil, err
	}
	return &page, nil
}
