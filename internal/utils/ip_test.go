package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowList(t *testing.T) {
	list, err := ParseAllowList([]string{"127.0.0.1/32", " 10.0.0.0/8", "::1/128", ""})
	require.NoError(t, err)

	cases := map[string]bool{
		"127.0.0.1":          true,
		"127.0.0.1:51234":    true,
		"10.20.30.40":        true,
		"[::1]:8080":         true,
		"::ffff:10.1.1.1":    true,
		"192.168.1.10":       false,
		"not-an-ip":          false,
		"":                   false,
		"[2001:db8::1]:8080": false,
	}
	for ip, want := range cases {
		assert.Equal(t, want, list.Allows(ip), ip)
	}

	_, err = ParseAllowList([]string{"10.0.0.0/33"})
	require.Error(t, err)
}
