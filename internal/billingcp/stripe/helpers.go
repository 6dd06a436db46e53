package stripe

import "strings"

// metadataOrganizationKeys are checked in order for the owning organization.
var metadataOrganizationKeys = []string{"organization_id", "organizationId"}

// OrganizationIDFromMetadata returns the organization carried in Stripe
// metadata, or "".
func OrganizationIDFromMetadata(metadata map[string]string) string {
	for _, key := range metadataOrganizationKeys {
		if v := strings.TrimSpace(metadata[key]); v != "" {
			return v
		}
	}
	return ""
}

// IsSafeStripeID validates that a Stripe ID (cus_..., sub_...) is safe for
// use as a lookup key.
func IsSafeStripeID(stripeID string) bool {
	if len(stripeID) < 5 || len(stripeID) > 128 {
		return false
	}
	for i := 0; i < len(stripeID); i++ {
		c := stripeID[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}
