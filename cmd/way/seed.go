package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/ibelehai/way-whereareyou/internal/config"
	"github.com/ibelehai/way-whereareyou/internal/domain"
	"github.com/ibelehai/way-whereareyou/internal/repo"
	"github.com/ibelehai/way-whereareyou/internal/services"
)

// seedCodeLength matches the codes handed out on printed cards.
const seedCodeLength = 6

type seedOpts struct {
	slug      string
	name      string
	country   string
	code      string
	limit     int
	expiresIn time.Duration
	inactive  bool
	link      string
}

func newSeedCmd() *cobra.Command {
	var o seedOpts
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a place (if missing) and an access code for it",
		Example: `  way seed --slug alice --name "Alice's map"
  way seed --slug alice --code SUMMER --limit 50 --expires-in 720h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := repo.Open(cfg.DB, repo.Options{Silent: true})
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close(db) }()
			if err := repo.AutoMigrate(db); err != nil {
				return err
			}

			tenant, code, err := runSeed(cmd.Context(), db, o, time.Now())
			if err != nil {
				return err
			}
			limit := "unlimited"
			if code.UsageLimit != nil {
				limit = fmt.Sprint(*code.UsageLimit)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "place %s (%s)\ncode  %s  limit=%s active=%t\n",
				tenant.Slug, tenant.ID, code.Code, limit, code.IsActive)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.slug, "slug", "", "place slug (required)")
	f.StringVar(&o.name, "name", "", "display name, used when the place is created")
	f.StringVar(&o.country, "country", "", "home country of the place (ISO 3166-1 alpha-2)")
	f.StringVar(&o.code, "code", "", "access code; random when empty")
	f.IntVar(&o.limit, "limit", 1, "usage limit; 0 means unlimited")
	f.DurationVar(&o.expiresIn, "expires-in", 0, "expire the code after this long; 0 never expires")
	f.BoolVar(&o.inactive, "inactive", false, "create the code disabled")
	f.StringVar(&o.link, "link", "", "share link stored with the code")
	_ = cmd.MarkFlagRequired("slug")
	return cmd
}

// runSeed is idempotent on the place and always creates a new code.
func runSeed(ctx context.Context, db *gorm.DB, o seedOpts, now time.Time) (*domain.Tenant, *domain.AccessCode, error) {
	slug := services.NormalizeSlug(o.slug)
	if !services.ValidSlug(slug) {
		return nil, nil, fmt.Errorf("invalid slug %q", o.slug)
	}
	if o.limit < 0 {
		return nil, nil, errors.New("--limit must be >= 0")
	}

	tenant, err := repo.GetTenantBySlug(ctx, db, slug)
	if errors.Is(err, repo.ErrNotFound) {
		name := strings.TrimSpace(o.name)
		if name == "" {
			name = slug
		}
		var country *string
		if o.country != "" {
			c, ok := services.NormalizeCountry(o.country)
			if !ok {
				return nil, nil, fmt.Errorf("invalid country %q", o.country)
			}
			country = &c
		}
		tenant, err = repo.CreateTenant(ctx, db, slug, name, country)
	}
	if err != nil {
		return nil, nil, err
	}

	code := services.NormalizeCode(o.code)
	if code == "" {
		if code, err = services.GenerateCode(seedCodeLength); err != nil {
			return nil, nil, err
		}
	}

	in := repo.NewAccessCode{TenantID: tenant.ID, Code: code, IsActive: !o.inactive}
	if o.limit > 0 {
		in.UsageLimit = &o.limit
	}
	if o.expiresIn > 0 {
		exp := now.Add(o.expiresIn).UTC()
		in.ExpiresAt = &exp
	}
	if o.link != "" {
		in.LinkURL = &o.link
	}
	ac, err := repo.CreateAccessCode(ctx, db, in)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, nil, fmt.Errorf("code %s already exists for %s", code, slug)
	}
	return tenant, ac, err
}
