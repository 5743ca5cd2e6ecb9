// Package identity maps helpdesk tickets to upstream appUser ids.
package identity

import (
	"crypto/md5"
	"encoding/hex"
)

// namespace keeps ticket digests apart from other hashes of the same id.
const namespace = "ticket-"

// ExternalID returns the upstream userId for a ticket. The digest is 32 lowercase
// hex chars. tenantID is mixed in only when non-empty, so single-tenant ids stay
// compatible with appUsers created before tenant scoping existed.
func ExternalID(ticketID, tenantID string) string {
	input := namespace + ticketID
	if tenantID != "" {
		input = namespace + tenantID + "-" + ticketID
	}
	sum := md5.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}
