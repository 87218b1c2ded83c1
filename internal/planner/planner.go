// Package planner decides which modules of a course get their lesson
// metadata loaded eagerly.
package planner

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Mode is the navigation context a course is opened in.
type Mode string

const (
	Learning Mode = "learning"
	Preview  Mode = "preview"
	Editing  Mode = "editing"
)

// ErrUnknownMode is returned by ParseMode.
var ErrUnknownMode = errors.New("unknown mode")

// ParseMode parses a mode name; empty means Learning.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return Learning, nil
	case Learning, Preview, Editing:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// ModuleSummary is the part of a module the planner looks at.
type ModuleSummary struct {
	ID        string
	LessonIDs []string
}

// Focus is where the learner is. Both fields are optional.
type Focus struct {
	ModuleID string
	LessonID string
}

// Set is a set of module ids.
type Set map[string]struct{}

// Has reports whether id is in the set.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in lexical order.
func (s Set) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Plan returns the ids of the modules to load in detail. modules must be
// in course order. Editing loads everything; learning and preview load the
// focused module and its immediate neighbours. The focus is the module with
// focus.ModuleID, else the module listing focus.LessonID, else the first.
func Plan(modules []ModuleSummary, mode Mode, focus Focus) Set {
	set := make(Set)
	if len(modules) == 0 {
		return set
	}

	if mode == Editing {
		for _, m := range modules {
			set[m.ID] = struct{}{}
		}
		return set
	}

	i := focusIndex(modules, focus)
	lo := max(0, i-1)
	hi := min(len(modules)-1, i+1)
	for _, m := range modules[lo : hi+1] {
		set[m.ID] = struct{}{}
	}
	return set
}

func focusIndex(modules []ModuleSummary, focus Focus) int {
	if focus.ModuleID != "" {
		if i := slices.IndexFunc(modules, func(m ModuleSummary) bool { return m.ID == focus.ModuleID }); i >= 0 {
			return i
		}
	}
	if focus.LessonID != "" {
		if i := slices.IndexFunc(modules, func(m ModuleSummary) bool {
			return slices.Contains(m.LessonIDs, focus.LessonID)
		}); i >= 0 {
			return i
		}
	}
	return 0
}
