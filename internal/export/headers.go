// Package export expands lane pairs into DAT bulk-upload posting rows and
// writes them as CSV or XLSX.
package export

// DAT bulk-upload headers, in file order.
const (
	HeaderPickupEarliest        = "Pickup Earliest*"
	HeaderPickupLatest          = "Pickup Latest"
	HeaderLength                = "Length (ft)*"
	HeaderWeight                = "Weight (lbs)*"
	HeaderFullPartial           = "Full/Partial*"
	HeaderEquipment             = "Equipment*"
	HeaderUsePrivateNetwork     = "Use Private Network*"
	HeaderPrivateNetworkRate    = "Private Network Rate"
	HeaderAllowPrivateBooking   = "Allow Private Network Booking"
	HeaderAllowPrivateBidding   = "Allow Private Network Bidding"
	HeaderUseLoadboard          = "Use DAT Loadboard*"
	HeaderLoadboardRate         = "DAT Loadboard Rate"
	HeaderAllowLoadboardBooking = "Allow DAT Loadboard Booking"
	HeaderUseExtendedNetwork    = "Use Extended Network"
	HeaderContactMethod         = "Contact Method*"
	HeaderOriginCity            = "Origin City*"
	HeaderOriginState           = "Origin State*"
	HeaderOriginPostalCode      = "Origin Postal Code"
	HeaderDestCity              = "Destination City*"
	HeaderDestState             = "Destination State*"
	HeaderDestPostalCode        = "Destination Postal Code"
	HeaderComment               = "Comment"
	HeaderCommodity             = "Commodity"
	HeaderReferenceID           = "Reference ID"
)

// DateLayout is the posting date format (MM/DD/YYYY).
const DateLayout = "01/02/2006"

var headers = []string{
	HeaderPickupEarliest,
	HeaderPickupLatest,
	HeaderLength,
	HeaderWeight,
	HeaderFullPartial,
	HeaderEquipment,
	HeaderUsePrivateNetwork,
	HeaderPrivateNetworkRate,
	HeaderAllowPrivateBooking,
	HeaderAllowPrivateBidding,
	HeaderUseLoadboard,
	HeaderLoadboardRate,
	HeaderAllowLoadboardBooking,
	HeaderUseExtendedNetwork,
	HeaderContactMethod,
	HeaderOriginCity,
	HeaderOriginState,
	HeaderOriginPostalCode,
	HeaderDestCity,
	HeaderDestState,
	HeaderDestPostalCode,
	HeaderComment,
	HeaderCommodity,
	HeaderReferenceID,
}

// Headers returns the header row in file order.
func Headers() []string {
	out := make([]string, len(headers))
	copy(out, headers)
	return out
}

// RequiredHeaders returns the starred headers, which must be non-empty.
func RequiredHeaders() []string {
	var out []string
	for _, h := range headers {
		if h[len(h)-1] == '*' {
			out = append(out, h)
		}
	}
	return out
}
