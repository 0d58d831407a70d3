package cache

import "time"

// TTLClass groups data by how quickly it goes out of date.
type TTLClass string

const (
	ClassFast   TTLClass = "fast"   // today's habits, live counters
	ClassMedium TTLClass = "medium" // history pages, stats
	ClassSlow   TTLClass = "slow"   // profile, settings
	ClassStatic TTLClass = "static" // catalogues, subscription limits
)

// DefaultTTLClasses are used for classes missing from Config.TTLClasses.
func DefaultTTLClasses() map[TTLClass]time.Duration {
	return map[TTLClass]time.Duration{
		ClassFast:   60 * time.Second,
		ClassMedium: 5 * time.Minute,
		ClassSlow:   30 * time.Minute,
		ClassStatic: 60 * time.Minute,
	}
}

func (c TTLClass) Valid() bool {
	switch c {
	case ClassFast, ClassMedium, ClassSlow, ClassStatic:
		return true
	}
	return false
}
