// Package schedule evaluates the global open/closed gate as a pure
// function of the current time and the persisted settings. Persistence of
// transitions belongs to the caller.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gartstein/enroll/internal/registration/models"
)

// Decision is the outcome of evaluating the schedule at a point in time.
// Changed indicates the persisted record must transition to this state.
type Decision struct {
	IsOpen     bool
	AutoClosed bool
	Changed    bool
}

// Evaluate applies the daily window rules to the schedule.
//
// With auto-scheduling off, or either bound unset or malformed, the manual
// flag stands. A close time at or after the open time describes a same-day
// window; a close time before the open time describes an overnight window.
// An auto-triggered closure is never auto-reopened: only a manual open
// clears AutoClosed and re-arms the cycle.
func Evaluate(now time.Time, s *models.Schedule) Decision {
	baseline := Decision{IsOpen: s.IsOpen, AutoClosed: s.AutoClosed}

	if !s.AutoSchedule || s.OpenTime == "" || s.CloseTime == "" {
		return baseline
	}
	openSec, err := parseClock(s.OpenTime)
	if err != nil {
		return baseline
	}
	closeSec, err := parseClock(s.CloseTime)
	if err != nil {
		return baseline
	}

	nowSec := now.Hour()*3600 + now.Minute()*60 + now.Second()

	var shouldBeOpen, shouldBeClosed bool
	if openSec <= closeSec {
		shouldBeOpen = nowSec >= openSec && nowSec < closeSec
		shouldBeClosed = !shouldBeOpen
	} else {
		shouldBeOpen = nowSec >= openSec || nowSec < closeSec
		shouldBeClosed = nowSec >= closeSec && nowSec < openSec
	}

	switch {
	case shouldBeClosed && s.IsOpen:
		return Decision{IsOpen: false, AutoClosed: true, Changed: true}
	case shouldBeOpen && !s.IsOpen && !s.AutoClosed:
		// The closure was manual, so the window may reopen it.
		return Decision{IsOpen: true, AutoClosed: false, Changed: true}
	case shouldBeOpen && s.IsOpen:
		return baseline
	default:
		return Decision{IsOpen: false, AutoClosed: s.AutoClosed}
	}
}

// ValidClock reports whether v is a well-formed HH:MM clock value.
func ValidClock(v string) bool {
	_, err := parseClock(v)
	return err == nil
}

// parseClock converts an HH:MM string to seconds since midnight.
func parseClock(v string) (int, error) {
	parts := strings.Split(v, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed clock value %q", v)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("clock value %q out of range", v)
	}
	return hours*3600 + minutes*60, nil
}
