package routespec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoute(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"*", "", false},
		{"0.*", "0", false},
		{"1.*", "1", false},
		{"0.1.*", "01", false},
		{strings20Bits(), "", false},
		{strings21Bits(), "", true},
		{"2.*", "", true},
		{"0.1", "", true},
		{"", "", true},
	}

	for _, c := range cases {
		got, err := ParseRoute(c.in)
		if c.wantErr {
			assert.Error(t, err, "input %q", c.in)
			continue
		}
		require.NoError(t, err, "input %q", c.in)
		if c.in != strings20Bits() {
			assert.Equal(t, c.want, got, "input %q", c.in)
		}
	}
}

func strings20Bits() string {
	s := ""
	for i := 0; i < 20; i++ {
		s += "0."
	}
	return s + "*"
}

func strings21Bits() string {
	s := ""
	for i := 0; i < 21; i++ {
		s += "0."
	}
	return s + "*"
}

func TestParseServerURL(t *testing.T) {
	u, err := ParseServerURL("http://only:8001/")
	require.NoError(t, err)
	assert.Equal(t, ServerURL("http://only:8001/"), u)

	_, err = ParseServerURL("https://only:8001/")
	assert.Error(t, err)

	_, err = ParseServerURL("not-a-url")
	assert.Error(t, err)
}

func TestParseLine(t *testing.T) {
	r, err := ParseLine("0.*   http://a:8001/")
	require.NoError(t, err)
	assert.Equal(t, "0", r.Prefix)
	assert.Equal(t, ServerURL("http://a:8001/"), r.URL)

	_, err = ParseLine("0.* http://a:8001/ extra")
	assert.Error(t, err)

	_, err = ParseLine("just-one-token")
	assert.Error(t, err)
}
