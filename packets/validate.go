package packets

import "strings"

// ValidTopicName reports whether s is a legal PUBLISH topic name: non-empty,
// and free of the SUBSCRIBE-only wildcard characters.
func ValidTopicName(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, "+#")
}

// ValidTopicFilter reports whether s is a legal SUBSCRIBE/UNSUBSCRIBE topic
// filter: non-empty, and using '+'/'#' only where the wildcard grammar
// permits (each wildcard must occupy an entire topic level, and '#' may
// only be the final level).
func ValidTopicFilter(s string) bool {
	if s == "" {
		return false
	}

	levels := strings.Split(s, "/")
	for i, level := range levels {
		switch {
		case level == "+":
			continue
		case level == "#":
			if i != len(levels)-1 {
				return false
			}
		case strings.ContainsAny(level, "+#"):
			return false
		}
	}

	return true
}
