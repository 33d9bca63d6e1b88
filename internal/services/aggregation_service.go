package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/ibelehai/way-whereareyou/internal/domain"
	"github.com/ibelehai/way-whereareyou/internal/observability"
	"github.com/ibelehai/way-whereareyou/internal/repo"
	"github.com/ibelehai/way-whereareyou/internal/utils"
)

// TimeWindow bounds reads by creation time.
type TimeWindow string

const (
	WindowAll   TimeWindow = "all"
	WindowToday TimeWindow = "today"
	WindowMonth TimeWindow = "month"
)

// ParseWindow accepts "", all, today, month and this-month.
func ParseWindow(s string) (TimeWindow, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return WindowAll, true
	case "today":
		return WindowToday, true
	case "month", "this-month":
		return WindowMonth, true
	}
	return "", false
}

// Since returns the window's lower bound in loc, or nil for WindowAll.
func (w TimeWindow) Since(now time.Time, loc *time.Location) *time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	var start time.Time
	switch w {
	case WindowToday:
		start = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	case WindowMonth:
		start = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	default:
		return nil
	}
	start = start.UTC()
	return &start
}

// Page size bounds for listings.
const (
	DefaultPageSize = 20
	MaxPageSize     = 20
)

// ListQuery selects one page of submissions.
type ListQuery struct {
	Slug      string
	Country   string
	Dimension string
	Window    string
	Page      int
	PageSize  int
	// Sort is "newest" (default) or "oldest".
	Sort string
}

// AggregationService serves the read side: per-country counts and listings.
// It never writes.
type AggregationService struct {
	DB       *gorm.DB
	Tenants  *TenantCache
	Location *time.Location
	Now      func() time.Time
	// Timeout bounds each read; zero means 5s.
	Timeout time.Duration
}

func (s *AggregationService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *AggregationService) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return 5 * time.Second
}

func (s *AggregationService) tenantID(ctx context.Context, slug string) (string, error) {
	slug = NormalizeSlug(slug)
	if s.Tenants != nil {
		return s.Tenants.Resolve(ctx, slug)
	}
	t, err := repo.GetTenantBySlug(ctx, s.DB, slug)
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrTenantNotFound
	}
	if err != nil {
		return "", classifyStoreErr(err)
	}
	return t.ID, nil
}

func (s *AggregationService) filter(ctx context.Context, slug, window, dimension string) (repo.SubmissionFilter, error) {
	w, ok := ParseWindow(window)
	if !ok {
		return repo.SubmissionFilter{}, fmt.Errorf("%w: unknown window %q", ErrInvalidQuery, window)
	}
	dim, ok := domain.ParseDimension(dimension)
	if !ok {
		return repo.SubmissionFilter{}, fmt.Errorf("%w: unknown dimension %q", ErrInvalidQuery, dimension)
	}
	tenantID, err := s.tenantID(ctx, slug)
	if err != nil {
		return repo.SubmissionFilter{}, err
	}
	return repo.SubmissionFilter{
		TenantID: tenantID,
		Column:   dim,
		Since:    w.Since(s.now(), s.Location),
	}, nil
}

// Heatmap counts submissions per country code for the tenant.
func (s *AggregationService) Heatmap(ctx context.Context, slug, window, dimension string) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()
	ctx, span := observability.Tracer("aggregation").Start(ctx, "Heatmap")
	defer span.End()
	span.SetAttributes(observability.TenantAttr(slug), attribute.String("window", window), attribute.String("dimension", dimension))

	f, err := s.filter(ctx, slug, window, dimension)
	if err != nil {
		return nil, err
	}
	rows, err := repo.CountByCountry(ctx, s.DB, f)
	if err != nil {
		return nil, classifyStoreErr(err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Code] = r.Count
	}
	return out, nil
}

// List returns one page of submissions and the size of the filtered set.
// PageSize is clamped to [1, MaxPageSize] and Page to at least 1.
func (s *AggregationService) List(ctx context.Context, q ListQuery) ([]domain.Submission, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()
	ctx, span := observability.Tracer("aggregation").Start(ctx, "List")
	defer span.End()

	var oldestFirst bool
	switch strings.ToLower(strings.TrimSpace(q.Sort)) {
	case "", "newest":
	case "oldest":
		oldestFirst = true
	default:
		return nil, 0, fmt.Errorf("%w: unknown sort %q", ErrInvalidQuery, q.Sort)
	}

	f, err := s.filter(ctx, q.Slug, q.Window, q.Dimension)
	if err != nil {
		return nil, 0, err
	}
	if strings.TrimSpace(q.Country) != "" {
		c, ok := NormalizeCountry(q.Country)
		if !ok {
			return nil, 0, fmt.Errorf("%w: unknown country %q", ErrInvalidQuery, q.Country)
		}
		f.Country = c
	}

	page, size := utils.ClampPage(q.Page, q.PageSize, DefaultPageSize, MaxPageSize)
	span.SetAttributes(attribute.Int("page", page), attribute.Int("page_size", size))

	total, err := repo.CountSubmissions(ctx, s.DB, f)
	if err != nil {
		return nil, 0, classifyStoreErr(err)
	}
	items, err := repo.ListSubmissionsPage(ctx, s.DB, f, oldestFirst, utils.Offset(page, size), size)
	if err != nil {
		return nil, 0, classifyStoreErr(err)
	}
	return items, total, nil
}

// Get returns one submission of the tenant.
func (s *AggregationService) Get(ctx context.Context, slug, id string) (*domain.Submission, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()
	tenantID, err := s.tenantID(ctx, slug)
	if err != nil {
		return nil, err
	}
	sub, err := repo.GetSubmission(ctx, s.DB, tenantID, strings.TrimSpace(id))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, classifyStoreErr(err)
	}
	return sub, nil
}

// ETagSeed summarizes the filtered set for cache validators.
func (s *AggregationService) ETagSeed(ctx context.Context, q ListQuery) (int64, *time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()
	f, err := s.filter(ctx, q.Slug, q.Window, q.Dimension)
	if err != nil {
		return 0, nil, err
	}
	if c, ok := NormalizeCountry(q.Country); ok {
		f.Country = c
	}
	n, newest, err := repo.SubmissionsStats(ctx, s.DB, f)
	if err != nil {
		return 0, nil, classifyStoreErr(err)
	}
	return n, newest, nil
}
