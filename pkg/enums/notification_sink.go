package enums

import (
	"fmt"
	"strings"
)

// NotificationSink selects where reward notifications are relayed.
type NotificationSink string

const (
	NotificationSinkRedis  NotificationSink = "redis"
	NotificationSinkPubSub NotificationSink = "pubsub"
	NotificationSinkLog    NotificationSink = "log"
)

var validNotificationSinks = []NotificationSink{
	NotificationSinkRedis,
	NotificationSinkPubSub,
	NotificationSinkLog,
}

// IsValid reports whether the value is known.
func (n NotificationSink) IsValid() bool {
	for _, candidate := range validNotificationSinks {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationSink converts raw config into a NotificationSink.
func ParseNotificationSink(value string) (NotificationSink, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validNotificationSinks {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification sink %q", value)
}
