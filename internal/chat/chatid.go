package chat

import "strings"

// DeriveChatIdentifier computes the stable composite key for a two-party
// conversation. The two user IDs are sorted before joining so that both
// participants derive the identical key independently of who initiates.
func DeriveChatIdentifier(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + "_" + userB
}

// PeerOf returns the other participant's ID given a chatIdentifier and the
// local user's ID. User IDs may contain the separator themselves, so the key
// is matched against the local ID's position rather than split at the first
// underscore. Returns "" if the local user is not part of the key.
func PeerOf(chatIdentifier, selfID string) string {
	if selfID == "" {
		return ""
	}
	if peer, ok := strings.CutPrefix(chatIdentifier, selfID+"_"); ok {
		return peer
	}
	if peer, ok := strings.CutSuffix(chatIdentifier, "_"+selfID); ok {
		return peer
	}
	return ""
}
