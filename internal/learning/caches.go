package learning

import (
	"github.com/p-n-ai/pai-courses/internal/cache"
	"github.com/p-n-ai/pai-courses/internal/content"
)

// Caches holds one cache per resource the service reads.
type Caches struct {
	Course         *cache.Cache[content.Course]
	Modules        *cache.Cache[[]content.Module]
	Lessons        *cache.Cache[[]content.Lesson] // keyed by module id
	LessonContent  *cache.Cache[content.LessonContent]
	EditingContent *cache.Cache[content.LessonContent]
	Enrollment     *cache.Cache[content.Enrollment] // keyed by courseID:userID
}

// NewCaches builds the caches from policies, falling back to
// cache.DefaultPolicies for resources policies does not name.
func NewCaches(policies map[string]cache.Policy, opts ...cache.Option) *Caches {
	defaults := cache.DefaultPolicies()
	policy := func(resource string) cache.Policy {
		if p, ok := policies[resource]; ok {
			return p
		}
		return defaults[resource]
	}

	return &Caches{
		Course:         cache.New[content.Course](cache.ResourceCourse, policy(cache.ResourceCourse), opts...),
		Modules:        cache.New[[]content.Module](cache.ResourceModules, policy(cache.ResourceModules), opts...),
		Lessons:        cache.New[[]content.Lesson](cache.ResourceLessons, policy(cache.ResourceLessons), opts...),
		LessonContent:  cache.New[content.LessonContent](cache.ResourceLessonContent, policy(cache.ResourceLessonContent), opts...),
		EditingContent: cache.New[content.LessonContent](cache.ResourceEditingContent, policy(cache.ResourceEditingContent), opts...),
		Enrollment:     cache.New[content.Enrollment](cache.ResourceEnrollment, policy(cache.ResourceEnrollment), opts...),
	}
}

// Wait blocks until background revalidations in every cache have finished.
func (c *Caches) Wait() {
	c.Course.Wait()
	c.Modules.Wait()
	c.Lessons.Wait()
	c.LessonContent.Wait()
	c.EditingContent.Wait()
	c.Enrollment.Wait()
}

func enrollmentKey(courseID, userID string) string {
	return courseID + ":" + userID
}
