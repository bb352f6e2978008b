package mqtt

import (
	"fmt"
	"strings"
)

// Topic wildcards.
const (
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
)

// ValidatePublishTopic checks that topic can be published to.
// Publish topics must be non-empty and must not contain wildcards or NUL.
func ValidatePublishTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic is empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, singleLevelWildcard+multiLevelWildcard) {
		return fmt.Errorf("%w: wildcards are not allowed in publish topic %q", ErrInvalidTopic, topic)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: topic contains NUL", ErrInvalidTopic)
	}
	return nil
}

// ValidateFilter checks that filter is a well-formed subscription filter.
// "#" may only appear as the whole last level and "+" only as a whole level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: filter is empty", ErrInvalidTopic)
	}
	if strings.ContainsRune(filter, 0) {
		return fmt.Errorf("%w: filter contains NUL", ErrInvalidTopic)
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == multiLevelWildcard:
			if i != len(levels)-1 {
				return fmt.Errorf("%w: %q must be the last level in %q", ErrInvalidTopic, multiLevelWildcard, filter)
			}
		case level == singleLevelWildcard:
		case strings.ContainsAny(level, singleLevelWildcard+multiLevelWildcard):
			return fmt.Errorf("%w: wildcard must occupy a whole level in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}

// MatchTopic reports whether topic matches the subscription filter.
// Topics starting with "$" are only matched by filters that name them explicitly.
func MatchTopic(filter, topic string) bool {
	if strings.HasPrefix(topic, "$") && !strings.HasPrefix(filter, "$") {
		return false
	}

	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")

	for i, f := range fl {
		if f == multiLevelWildcard {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if f != singleLevelWildcard && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
