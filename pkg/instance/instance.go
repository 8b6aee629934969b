package instance

import (
	"fmt"
	"os"
)

// GetID returns the worker instance identifier. It prefers REWARDLEDGER_WORKER_ID,
// then the host name, then a static default.
func GetID() string {
	if id := os.Getenv("REWARDLEDGER_WORKER_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return fmt.Sprintf("worker-%s", host)
	}
	return "worker-0"
}
