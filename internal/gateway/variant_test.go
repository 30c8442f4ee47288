package gateway_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uddoktapay-gateway/internal/gateway"
)

func TestParseVariants(t *testing.T) {
	cases := map[string]gateway.Variant{
		"default": gateway.Default,
		"MFS":     gateway.MFS,
		" bank ":  gateway.Bank,
		"global":  gateway.Global,
	}
	for input, want := range cases {
		got, err := gateway.Parse(input)
		require.NoError(t, err, input)
		require.Equal(t, want, got)
	}

	_, err := gateway.Parse("crypto")
	require.Error(t, err)
}

func TestVariantDescriptorsAreDistinct(t *testing.T) {
	paths := map[string]bool{}
	sections := map[string]bool{}
	names := map[string]bool{}
	for _, v := range gateway.All() {
		require.True(t, v.Valid())
		require.False(t, paths[v.CheckoutPath()], "duplicate path %s", v.CheckoutPath())
		require.False(t, sections[v.Section()], "duplicate section %s", v.Section())
		require.False(t, names[v.DisplayName()], "duplicate name %s", v.DisplayName())
		paths[v.CheckoutPath()] = true
		sections[v.Section()] = true
		names[v.DisplayName()] = true
	}
	require.Equal(t, "checkout-v2/mfs", gateway.MFS.CheckoutPath())
	require.Equal(t, "uddoktapayglobal", gateway.Global.Section())
	require.False(t, gateway.Variant("other").Valid())
}
