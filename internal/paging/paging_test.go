package paging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var messageDefaults = Defaults{Limit: 5, MaxLimit: 100}

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		page      string
		limit     string
		expected  Params
		expectErr error
	}{
		{name: "defaults", expected: Params{Page: 1, Limit: 5}},
		{name: "numeric strings", page: "3", limit: "20", expected: Params{Page: 3, Limit: 20}},
		{name: "whitespace trimmed", page: " 2 ", limit: " 7", expected: Params{Page: 2, Limit: 7}},
		{name: "clamped limit", limit: "1000", expected: Params{Page: 1, Limit: 100}},
		{name: "zero page", page: "0", expectErr: ErrInvalidPage},
		{name: "negative limit", limit: "-1", expectErr: ErrInvalidLimit},
		{name: "non numeric page", page: "abc", expectErr: ErrInvalidPage},
		{name: "page whose offset overflows", page: "2305843009213693953", limit: "5", expectErr: ErrInvalidPage},
		{name: "overflow checked after clamping", page: "92233720368547759", limit: "1000", expected: Params{Page: 92233720368547759, Limit: 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)

			got, err := Parse(tt.page, tt.limit, messageDefaults)

			if tt.expectErr != nil {
				req.ErrorIs(err, tt.expectErr)
				return
			}
			req.NoError(err)
			req.Equal(tt.expected, got)
		})
	}
}

func TestParams_Range(t *testing.T) {
	req := require.New(t)

	from, to := Params{Page: 3, Limit: 5}.Range()

	req.Equal(10, from)
	req.Equal(14, to)
	req.Equal(0, Params{Page: 1, Limit: 10}.Offset())
}

func TestPageCount(t *testing.T) {
	req := require.New(t)

	req.Equal(0, PageCount(0, 5))
	req.Equal(1, PageCount(1, 5))
	req.Equal(1, PageCount(5, 5))
	req.Equal(2, PageCount(6, 5))
	req.Equal(0, PageCount(10, 0))

	for total := 0; total < 50; total++ {
		for limit := 1; limit < 12; limit++ {
			pages := PageCount(total, limit)
			req.GreaterOrEqual(pages*limit, total)
			req.Less((pages-1)*limit, max(total, 1))
		}
	}
}

func TestParseSort(t *testing.T) {
	allowed := []string{"sent_at", "content"}
	def := Sort{Field: "sent_at", Desc: true}

	t.Run("should return the default when empty", func(t *testing.T) {
		req := require.New(t)
		got, err := ParseSort("", allowed, def)
		req.NoError(err)
		req.Equal(def, got)
	})

	t.Run("should parse ascending", func(t *testing.T) {
		req := require.New(t)
		got, err := ParseSort("content:asc", allowed, def)
		req.NoError(err)
		req.Equal(Sort{Field: "content", Desc: false}, got)
		req.Equal("content:asc", got.String())
	})

	t.Run("should default to descending on missing or unknown direction", func(t *testing.T) {
		req := require.New(t)
		got, err := ParseSort("content", allowed, def)
		req.NoError(err)
		req.True(got.Desc)

		got, err = ParseSort("content:sideways", allowed, def)
		req.NoError(err)
		req.True(got.Desc)
	})

	t.Run("should reject unknown fields", func(t *testing.T) {
		req := require.New(t)
		_, err := ParseSort("password:asc", allowed, def)
		req.ErrorIs(err, ErrInvalidSort)
	})
}
