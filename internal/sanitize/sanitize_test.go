package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArchiveName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"My Region (West)", "my_region_[west]"},
		{"  leading and trailing  ", "leading_and_trailing"},
		{"", "srtm_tiles"},
		{"42", "srtm_42"},
		{"Weird!!@#Chars", "weirdchars"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ArchiveName(c.in))
	}
}
