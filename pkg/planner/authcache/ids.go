package authcache

import (
	"fmt"

	"github.com/nftrouter/planner-core/pkg/util"
)

// PermitID derives the content-addressed id for a permit, stable across
// retries of an identical request (spec.md §4.5, §9).
func PermitID(requestPayload any, token, amount string) (string, error) {
	id, err := util.ContentID(requestPayload, "permit", token, amount)
	if err != nil {
		return "", fmt.Errorf("authcache: permit id: %w", err)
	}
	return id, nil
}

// PreSignatureID derives the content-addressed id for a taker
// pre-signature, stable across retries of an identical request.
func PreSignatureID(requestPayload any, uniqueID string) (string, error) {
	id, err := util.ContentID(requestPayload, "presig", uniqueID)
	if err != nil {
		return "", fmt.Errorf("authcache: pre-signature id: %w", err)
	}
	return id, nil
}

// AuthChallengeKey derives the lookup key for a marketplace auth
// challenge, keyed by (marketplace, taker) per spec.md §4.5 — this is a
// plain composite key, not content-addressed, since the same taker must
// reuse the same challenge regardless of the triggering request payload.
func AuthChallengeKey(marketplace, taker string) string {
	return marketplace + ":" + taker
}
