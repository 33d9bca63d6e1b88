package domain

import "testing"

func TestParseDimension(t *testing.T) {
	cases := []struct {
		in     string
		want   Dimension
		ok     bool
		column string
	}{
		{"", DimensionSubject, true, "country_code"},
		{"subject", DimensionSubject, true, "country_code"},
		{" Stories ", DimensionSubject, true, "country_code"},
		{"origin", DimensionOrigin, true, "author_country_code"},
		{"PEOPLE", DimensionOrigin, true, "author_country_code"},
		{"weather", "", false, "country_code"},
	}
	for _, tc := range cases {
		got, ok := ParseDimension(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseDimension(%q) = (%q,%v); want (%q,%v)", tc.in, got, ok, tc.want, tc.ok)
		}
		if got.Column() != tc.column {
			t.Fatalf("%q.Column() = %q; want %q", got, got.Column(), tc.column)
		}
	}
}
