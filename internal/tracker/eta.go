package tracker

import (
	"fmt"
	"time"

	"github.com/ukydev/fleet-delivery/internal/models"
)

// ArrivedText replaces the ETA once less than a second remains.
const ArrivedText = "Your driver has arrived"

// RemainingTime estimates how long the vehicle needs to finish its leg at one
// waypoint per tick.
func RemainingTime(ri *models.RouteInfo, tick time.Duration) time.Duration {
	if ri == nil {
		return 0
	}
	left := len(ri.Route) - 1 - ri.Progress
	if left < 0 {
		left = 0
	}
	return time.Duration(left) * tick
}

// FormatETA renders d as "Xm Ys".
func FormatETA(d time.Duration) string {
	if d < time.Second {
		return ArrivedText
	}
	minutes := int(d / time.Minute)
	seconds := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
