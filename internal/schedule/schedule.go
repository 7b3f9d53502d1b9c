// Package schedule computes the next time a post is due from a list of
// daily wall-clock slots, and tracks the retry backoff after a failed
// publish. Both pieces are plain values passed through the driver loop;
// nothing here touches the network or the pool.
package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tomasv/fedipost/internal/logger"
)

// Slot is one daily posting time in local wall-clock terms.
type Slot struct {
	Hour   int
	Minute int
}

// String formats the slot as HH:MM.
func (s Slot) String() string {
	return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
}

// ParseSlot parses a "HH:MM" string into a Slot.
// Parameters:
//   - value: time string, e.g. "09:30".
// Returns:
//   - Slot: parsed slot.
//   - error: non-nil if the string is malformed or out of range.
func ParseSlot(value string) (Slot, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return Slot{}, fmt.Errorf("invalid time %q: expected HH:MM", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return Slot{}, fmt.Errorf("invalid hours in %q: %w", value, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return Slot{}, fmt.Errorf("invalid minutes in %q: %w", value, err)
	}
	if hour < 0 || hour > 23 {
		return Slot{}, fmt.Errorf("invalid time %q: hours must be 0-23", value)
	}
	if minute < 0 || minute > 59 {
		return Slot{}, fmt.Errorf("invalid time %q: minutes must be 0-59", value)
	}
	return Slot{Hour: hour, Minute: minute}, nil
}

// ParseSlots parses and sorts a list of "HH:MM" strings ascending.
// Parameters:
//   - values: time strings from configuration.
// Returns:
//   - []Slot: sorted slots.
//   - error: non-nil if any string is malformed or out of range.
func ParseSlots(values []string) ([]Slot, error) {
	slots := make([]Slot, 0, len(values))
	for _, v := range values {
		slot, err := ParseSlot(v)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Hour != slots[j].Hour {
			return slots[i].Hour < slots[j].Hour
		}
		return slots[i].Minute < slots[j].Minute
	})
	return slots, nil
}

// Clock supplies the live current time. Injected so tests can pin it.
type Clock func() time.Time

// NextFireTime returns the first slot timestamp strictly later than the
// live clock, walking forward day by day from the reference time.
//
// The reference is the previous fire time, or the current time at
// startup. Slots must be sorted ascending; out-of-range values are a
// configuration error caught by ParseSlots, so none are expected here.
// With no slots configured the reference plus one day is returned,
// which keeps the driver loop alive with a far-future check instead of
// erroring.
//
// A slot that does not exist on a given date (clocks-forward DST gap)
// is skipped; the skip is logged at info level only while it is still
// ahead of the reference, because stale skips behind the reference are
// noise. Ambiguous fall-back times resolve to the first of the two
// instants, which is what time.Date gives us.
//
// Parameters:
//   - after: reference timestamp; candidates are generated from its calendar date onward.
//   - slots: daily posting times, sorted ascending.
//   - now: live clock in the same location as after.
//   - log: sink for DST skip diagnostics.
// Returns:
//   - time.Time: first qualifying candidate, strictly later than now().
func NextFireTime(after time.Time, slots []Slot, now Clock, log *logger.Logger) time.Time {
	if len(slots) == 0 {
		return after.Add(24 * time.Hour)
	}

	loc := after.Location()
	liveNow := now().In(loc)

	year, month, day := after.Date()
	for {
		for _, slot := range slots {
			candidate := time.Date(year, month, day, slot.Hour, slot.Minute, 0, 0, loc)

			// time.Date normalizes times inside a DST gap to a
			// different wall clock; treat that as "slot does not
			// exist on this date".
			if candidate.Hour() != slot.Hour || candidate.Minute() != slot.Minute {
				if slotWallAfter(after, year, month, day, slot) {
					log.WithFields(logger.Fields{
						"slot": slot.String(),
						"date": candidate.Format("2006-01-02"),
					}).Info("Skipped post time that does not exist due to daylight saving time")
				}
				continue
			}

			if candidate.After(liveNow) {
				return candidate
			}
		}

		// No slot left today; advance one calendar day.
		year, month, day = time.Date(year, month, day+1, 0, 0, 0, 0, loc).Date()
	}
}

// slotWallAfter reports whether the slot on the given calendar date is
// later than after in wall-clock terms. A slot swallowed by a DST gap
// has no valid time.Time, so the comparison works on components; skips
// behind the reference stay silent.
func slotWallAfter(after time.Time, year int, month time.Month, day int, slot Slot) bool {
	ay, am, ad := after.Date()
	if year != ay || month != am || day != ad {
		// The day walk starts on after's date and only moves forward.
		return true
	}
	if slot.Hour != after.Hour() {
		return slot.Hour > after.Hour()
	}
	return slot.Minute > after.Minute()
}

// RetryState tracks the backoff after a failed publish attempt. Zero
// value means no failure pending.
type RetryState struct {
	Failing bool
	Since   time.Time
}

// MarkFailed returns the state after a retryable publish failure.
// Parameters:
//   - at: time the failure happened.
// Returns:
//   - RetryState: failing state anchored at the failure time.
func (r RetryState) MarkFailed(at time.Time) RetryState {
	return RetryState{Failing: true, Since: at}
}

// Clear returns the state after a publish resolved (success or
// permanent failure).
// Parameters: none.
// Returns:
//   - RetryState: zero state.
func (r RetryState) Clear() RetryState {
	return RetryState{}
}

// Due reports whether a retry attempt should run.
// Parameters:
//   - now: current time.
//   - interval: configured retry interval.
// Returns:
//   - bool: true if a failure is pending and the backoff elapsed.
func (r RetryState) Due(now time.Time, interval time.Duration) bool {
	return r.Failing && now.Sub(r.Since) > interval
}
