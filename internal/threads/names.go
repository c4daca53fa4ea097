package threads

import "strings"

const channelPrefix = "modmail-"

// ChannelName is the staff channel naming scheme. The user ID is embedded so
// a recreated channel can be matched back to its thread by name alone.
func ChannelName(userID string) string {
	return channelPrefix + userID
}

// ParseChannelName extracts the user ID from a staff channel name. The
// second return is false when the name does not follow the scheme.
func ParseChannelName(name string) (string, bool) {
	if !strings.HasPrefix(name, channelPrefix) {
		return "", false
	}
	userID := strings.TrimPrefix(name, channelPrefix)
	if userID == "" {
		return "", false
	}
	for _, r := range userID {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return userID, true
}
