package gateway

import (
	"fmt"
	"strings"
)

// Variant identifies one of the fixed checkout flavours offered by the provider.
// Variants only differ in the upstream checkout path, the configuration section
// and the name shown to customers.
type Variant string

const (
	// Default is the standard hosted checkout.
	Default Variant = "default"
	// MFS restricts the checkout to mobile financial services.
	MFS Variant = "mfs"
	// Bank restricts the checkout to bank transfers.
	Bank Variant = "bank"
	// Global is the international card checkout.
	Global Variant = "global"
)

type descriptor struct {
	checkoutPath string
	section      string
	displayName  string
}

var registry = map[Variant]descriptor{
	Default: {checkoutPath: "checkout-v2", section: "uddoktapay", displayName: "UddoktaPay"},
	MFS:     {checkoutPath: "checkout-v2/mfs", section: "uddoktapaymfs", displayName: "UddoktaPay MFS"},
	Bank:    {checkoutPath: "checkout-v2/bank", section: "uddoktapaybank", displayName: "UddoktaPay Bank"},
	Global:  {checkoutPath: "checkout-v2/global", section: "uddoktapayglobal", displayName: "UddoktaPay Global"},
}

// All returns every known variant in a stable order.
func All() []Variant {
	return []Variant{Default, MFS, Bank, Global}
}

// Parse resolves a route slug into a Variant.
func Parse(value string) (Variant, error) {
	v := Variant(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := registry[v]; !ok {
		return "", fmt.Errorf("gateway: unknown variant %q", value)
	}
	return v, nil
}

// Valid reports whether v is a registered variant.
func (v Variant) Valid() bool {
	_, ok := registry[v]
	return ok
}

// CheckoutPath is the path, relative to the provider API root, used to create a checkout.
func (v Variant) CheckoutPath() string { return registry[v].checkoutPath }

// Section is the configuration section and gateway module name recorded on ledger entries.
func (v Variant) Section() string { return registry[v].section }

// DisplayName is the customer-facing gateway name.
func (v Variant) DisplayName() string { return registry[v].displayName }

func (v Variant) String() string { return string(v) }
