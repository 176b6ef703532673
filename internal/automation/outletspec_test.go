package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutletSpec(t *testing.T) {
	cases := []struct {
		spec string
		want []int
	}{
		{"3", []int{3}},
		{"1,3,5", []int{1, 3, 5}},
		{"1-4", []int{1, 2, 3, 4}},
		{"2,1", []int{1, 2}},
		{"1-2,2-3", []int{1, 2, 3}},
	}
	for _, c := range cases {
		got, err := ParseOutletSpec(c.spec)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestParseOutletSpec_Invalid(t *testing.T) {
	cases := []string{"", "0", "n+1", "abc", "4-2"}
	for _, spec := range cases {
		_, err := ParseOutletSpec(spec)
		assert.Error(t, err, "spec %q should be rejected", spec)
	}
}
