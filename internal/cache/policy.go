package cache

import "time"

// Resource names, one Cache per resource.
const (
	ResourceCourse         = "course"
	ResourceModules        = "modules"
	ResourceLessons        = "lessons"
	ResourceLessonContent  = "lesson_content"
	ResourceEditingContent = "editing_content"
	ResourceEnrollment     = "enrollment"
	ResourceCompletion     = "completion"
)

// Policy sets the two freshness tiers of a resource. Before StaleAfter a
// value is served without any I/O; until HardExpireAfter it is served while
// a background refresh runs; after that callers wait for a fresh load.
type Policy struct {
	StaleAfter      time.Duration
	HardExpireAfter time.Duration
}

// normalized clamps StaleAfter so it never exceeds HardExpireAfter.
func (p Policy) normalized() Policy {
	if p.HardExpireAfter < 0 {
		p.HardExpireAfter = 0
	}
	if p.StaleAfter < 0 {
		p.StaleAfter = 0
	}
	if p.StaleAfter > p.HardExpireAfter {
		p.StaleAfter = p.HardExpireAfter
	}
	return p
}

// DefaultPolicies returns the built-in policy for every resource.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		ResourceCourse:         {StaleAfter: 15 * time.Minute, HardExpireAfter: 60 * time.Minute},
		ResourceModules:        {StaleAfter: 15 * time.Minute, HardExpireAfter: 60 * time.Minute},
		ResourceLessons:        {StaleAfter: 15 * time.Minute, HardExpireAfter: 60 * time.Minute},
		ResourceLessonContent:  {StaleAfter: 15 * time.Minute, HardExpireAfter: 60 * time.Minute},
		ResourceEditingContent: {StaleAfter: 2 * time.Minute, HardExpireAfter: 10 * time.Minute},
		ResourceEnrollment:     {StaleAfter: 10 * time.Minute, HardExpireAfter: 30 * time.Minute},
		ResourceCompletion:     {StaleAfter: 5 * time.Minute, HardExpireAfter: 15 * time.Minute},
	}
}
