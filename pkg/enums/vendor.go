package enums

import "fmt"

// Vendor identifies the external provider that funded a transaction.
type Vendor string

const (
	VendorCard   Vendor = "card"
	VendorPaypal Vendor = "paypal"
	VendorPledge Vendor = "pledge"
	VendorFake   Vendor = "fake"
)

var validVendors = []Vendor{
	VendorCard,
	VendorPaypal,
	VendorPledge,
	VendorFake,
}

type vendorTraits struct {
	displayName   string
	supportsCards bool
	chargeable    bool
}

var vendorTable = map[Vendor]vendorTraits{
	VendorCard:   {displayName: "Credit Card", supportsCards: true, chargeable: true},
	VendorPaypal: {displayName: "PayPal", supportsCards: false, chargeable: true},
	VendorPledge: {displayName: "Patreon", supportsCards: false, chargeable: false},
	VendorFake:   {displayName: "Test Vendor", supportsCards: true, chargeable: true},
}

// String implements fmt.Stringer.
func (v Vendor) String() string {
	return string(v)
}

// IsValid reports whether the value is known.
func (v Vendor) IsValid() bool {
	for _, candidate := range validVendors {
		if candidate == v {
			return true
		}
	}
	return false
}

// DisplayName is the human label shown next to a transaction.
func (v Vendor) DisplayName() string {
	if traits, ok := vendorTable[v]; ok {
		return traits.displayName
	}
	return "Unknown"
}

// SupportsCards reports whether the vendor stores card instruments.
func (v Vendor) SupportsCards() bool {
	return vendorTable[v].supportsCards
}

// Chargeable reports whether transactions for the vendor go through a charge call.
// Pledge rewards are funded externally and never charged.
func (v Vendor) Chargeable() bool {
	return vendorTable[v].chargeable
}

// ParseVendor converts raw input into a Vendor.
func ParseVendor(value string) (Vendor, error) {
	for _, candidate := range validVendors {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid vendor %q", value)
}
