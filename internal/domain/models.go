// Package domain defines the persistence models for tenants, access codes and
// submissions. These types are mapped with GORM and form the core data layer
// of the redemption service.
package domain

import (
	"time"
)

// DefaultTenantSlug is used when a request names no tenant.
const DefaultTenantSlug = "public"

// Tenant is an isolated namespace ("profile") owning access codes and
// submissions. Every query in the service is scoped by tenant.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Slug: URL-safe public identifier, unique.
//   - Name: display name.
//   - Country: optional ISO-3166 alpha-2 code of the tenant's home country.
type Tenant struct {
	ID        string    `json:"id"                gorm:"type:char(36);primaryKey"`
	Slug      string    `json:"slug"              gorm:"type:varchar(30);not null;uniqueIndex:ux_profiles_slug"`
	Name      string    `json:"name"              gorm:"type:varchar(100);not null"`
	Country   *string   `json:"country,omitempty" gorm:"type:varchar(2)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Tenant.
func (Tenant) TableName() string { return "profiles" }

// AccessCode is a short shared secret that authorizes submissions to one
// tenant. UsageCount only moves inside a redemption transaction and never
// exceeds UsageLimit when a limit is set; the check constraint holds that
// line at the database level as well.
//
// Fields:
//   - Code: upper-case secret, unique per tenant.
//   - UsageLimit: nil means unlimited.
//   - UsageCount: successful redemptions so far.
//   - IsActive: disabled codes reject every redemption. The column has no
//     default, so a false value is written as given.
//   - ExpiresAt: nil means the code never expires.
//   - LinkURL: optional share link shown to operators.
type AccessCode struct {
	ID         string     `json:"id"                   gorm:"type:char(36);primaryKey"`
	TenantID   string     `json:"profile_id"           gorm:"column:profile_id;type:char(36);not null;uniqueIndex:ux_access_codes_profile_code,priority:1"`
	Code       string     `json:"code"                 gorm:"type:varchar(64);not null;uniqueIndex:ux_access_codes_profile_code,priority:2"`
	UsageLimit *int       `json:"usage_limit"          gorm:"check:chk_access_codes_usage,usage_limit IS NULL OR usage_count <= usage_limit"`
	UsageCount int        `json:"usage_count"          gorm:"not null;default:0"`
	IsActive   bool       `json:"is_active"            gorm:"not null"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LinkURL    *string    `json:"link_url,omitempty"   gorm:"type:varchar(2048)"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	// Tenant is the owning profile. Codes are removed with their tenant.
	Tenant Tenant `json:"-" gorm:"foreignKey:TenantID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for AccessCode.
func (AccessCode) TableName() string { return "access_codes" }

// Remaining reports how many redemptions are left, or -1 when unlimited.
func (c AccessCode) Remaining() int {
	if c.UsageLimit == nil {
		return -1
	}
	if n := *c.UsageLimit - c.UsageCount; n > 0 {
		return n
	}
	return 0
}

// Expired reports whether the code's expiry is at or before now.
func (c AccessCode) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// Submission is one accepted entry. It exists only together with the usage
// increment that paid for it.
//
// Fields:
//   - CountryCode / CountryName: the location the entry is about (subject).
//   - AuthorCountryCode / AuthorCountryName: where the author is from (origin).
//   - AccessCode: the code that was redeemed, kept for audit.
//   - Body: optional free text, at most 500 characters.
//   - MediaURL: optional link to an uploaded image.
type Submission struct {
	ID                string    `json:"id"                     gorm:"type:char(36);primaryKey"`
	TenantID          string    `json:"profile_id"             gorm:"column:profile_id;type:char(36);not null;index:idx_submissions_profile_created,priority:1"`
	AccessCode        string    `json:"-"                      gorm:"type:varchar(64);not null"`
	CountryCode       string    `json:"country_code"           gorm:"type:varchar(2);not null;index:idx_submissions_country"`
	CountryName       string    `json:"country_name"           gorm:"type:varchar(100);not null"`
	AuthorCountryCode string    `json:"author_country_code"    gorm:"type:varchar(2);not null;index:idx_submissions_author_country"`
	AuthorCountryName string    `json:"author_country_name"    gorm:"type:varchar(100);not null"`
	AuthorName        string    `json:"author_name"            gorm:"type:varchar(100);not null"`
	AuthorAge         *int      `json:"author_age,omitempty"`
	Body              *string   `json:"body,omitempty"         gorm:"type:text"`
	MediaURL          *string   `json:"media_url,omitempty"    gorm:"type:varchar(2048)"`
	CreatedAt         time.Time `json:"created_at"             gorm:"index:idx_submissions_profile_created,priority:2"`

	// Tenant is the owning profile.
	Tenant Tenant `json:"-" gorm:"foreignKey:TenantID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Submission.
func (Submission) TableName() string { return "submissions" }

// All lists every model in dependency order, for AutoMigrate.
func All() []any {
	return []any{&Tenant{}, &AccessCode{}, &Submission{}, &Idempotency{}}
}
