package services

import (
	"crypto/rand"
	"io"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/ibelehai/way-whereareyou/internal/domain"
)

// Payload limits.
const (
	MaxBodyRunes = 500
	MaxNameRunes = 100
	MinAuthorAge = 13
	MaxAuthorAge = 100
	maxURLBytes  = 2048
)

var (
	countryCodeRe = regexp.MustCompile(`^[A-Z]{2}$`)
	slugRe        = regexp.MustCompile(`^[a-z0-9-]{3,30}$`)
)

// NormalizeCode trims and upper-cases an access code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeSlug trims and lower-cases a tenant slug; empty means the
// public tenant.
func NormalizeSlug(slug string) string {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return domain.DefaultTenantSlug
	}
	return slug
}

// ValidSlug reports whether slug may name a tenant.
func ValidSlug(slug string) bool { return slugRe.MatchString(slug) }

// NormalizeCountry upper-cases a country code and checks it is a known
// ISO 3166-1 alpha-2 region.
func NormalizeCountry(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !countryCodeRe.MatchString(code) {
		return "", false
	}
	if _, err := language.ParseRegion(code); err != nil {
		return "", false
	}
	return code, true
}

// EntryPayload is the client-supplied part of a submission.
type EntryPayload struct {
	CountryCode       string
	CountryName       string
	AuthorCountryCode string
	AuthorCountryName string
	AuthorName        string
	AuthorAge         *int
	Body              *string
	MediaURL          *string
}

// MediaOwner recognizes media URLs issued by the configured storage.
type MediaOwner interface {
	Owns(rawURL string) bool
}

func cleanText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// buildSubmission validates p and returns the submission fields it implies.
// The author's location defaults to the subject location.
func buildSubmission(p EntryPayload, media MediaOwner) (*domain.Submission, error) {
	country, ok := NormalizeCountry(p.CountryCode)
	if !ok {
		return nil, invalidf("country_code must be an ISO 3166-1 alpha-2 code")
	}
	countryName := cleanText(p.CountryName)
	if countryName == "" {
		return nil, invalidf("country_name is required")
	}
	if utf8.RuneCountInString(countryName) > MaxNameRunes {
		return nil, invalidf("country_name must be at most %d characters", MaxNameRunes)
	}

	authorCountry, authorCountryName := country, countryName
	if strings.TrimSpace(p.AuthorCountryCode) != "" {
		if authorCountry, ok = NormalizeCountry(p.AuthorCountryCode); !ok {
			return nil, invalidf("author_country_code must be an ISO 3166-1 alpha-2 code")
		}
		authorCountryName = cleanText(p.AuthorCountryName)
		if authorCountryName == "" {
			if authorCountry != country {
				return nil, invalidf("author_country_name is required with author_country_code")
			}
			authorCountryName = countryName
		}
		if utf8.RuneCountInString(authorCountryName) > MaxNameRunes {
			return nil, invalidf("author_country_name must be at most %d characters", MaxNameRunes)
		}
	}

	name := cleanText(p.AuthorName)
	if name == "" {
		return nil, invalidf("author_name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameRunes {
		return nil, invalidf("author_name must be at most %d characters", MaxNameRunes)
	}

	if p.AuthorAge != nil && (*p.AuthorAge < MinAuthorAge || *p.AuthorAge > MaxAuthorAge) {
		return nil, invalidf("author_age must be between %d and %d", MinAuthorAge, MaxAuthorAge)
	}

	var body *string
	if p.Body != nil {
		b := cleanText(*p.Body)
		if utf8.RuneCountInString(b) > MaxBodyRunes {
			return nil, invalidf("body must be at most %d characters", MaxBodyRunes)
		}
		if b != "" {
			body = &b
		}
	}

	var mediaURL *string
	if p.MediaURL != nil {
		u := strings.TrimSpace(*p.MediaURL)
		if u != "" {
			if err := checkMediaURL(u, media); err != nil {
				return nil, err
			}
			mediaURL = &u
		}
	}

	return &domain.Submission{
		CountryCode:       country,
		CountryName:       countryName,
		AuthorCountryCode: authorCountry,
		AuthorCountryName: authorCountryName,
		AuthorName:        name,
		AuthorAge:         p.AuthorAge,
		Body:              body,
		MediaURL:          mediaURL,
	}, nil
}

func checkMediaURL(raw string, media MediaOwner) error {
	if len(raw) > maxURLBytes {
		return invalidf("media_url is too long")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalidf("media_url must be an absolute http(s) URL")
	}
	if media != nil && !media.Owns(raw) {
		return invalidf("media_url was not issued by this service")
	}
	return nil
}

// codeAlphabet avoids look-alike characters (O/0, I/1).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateCode returns a random access code of n characters.
func GenerateCode(n int) (string, error) {
	if n <= 0 {
		n = 6
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(buf), nil
}
