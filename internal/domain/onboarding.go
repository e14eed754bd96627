package domain

import (
	"strings"
	"time"
)

// Task is one onboarding checklist item.
type Task string

const (
	TaskFirstTarget Task = "firstTarget"
	TaskFirstDeal   Task = "firstDeal"
	TaskFirstRule   Task = "firstRule"
	TaskFirstInvite Task = "firstInvite"
)

// TaskCount is the number of checklist items.
const TaskCount = 4

// ParseTask accepts the camelCase key or its snake/upper variants.
func ParseTask(s string) (Task, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "") {
	case "firsttarget":
		return TaskFirstTarget, nil
	case "firstdeal":
		return TaskFirstDeal, nil
	case "firstrule":
		return TaskFirstRule, nil
	case "firstinvite":
		return TaskFirstInvite, nil
	}
	return "", Invalid("task", "unknown onboarding task %q", s)
}

// OnboardingProgress is a per-actor checklist. Flags only ever go false→true.
type OnboardingProgress struct {
	UserID      string `json:"userId"`
	FirstTarget bool   `json:"firstTarget"`
	FirstDeal   bool   `json:"firstDeal"`
	FirstRule   bool   `json:"firstRule"`
	FirstInvite bool   `json:"firstInvite"`

	CompletedCount       int     `json:"completedCount"`
	CompletionPercentage float64 `json:"completionPercentage"`

	// JustCompleted is true only on the snapshot returned by the call that
	// set the fourth flag.
	JustCompleted bool       `json:"justCompleted"`
	Archived      bool       `json:"archived"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Has reports whether task is done.
func (p *OnboardingProgress) Has(task Task) bool {
	switch task {
	case TaskFirstTarget:
		return p.FirstTarget
	case TaskFirstDeal:
		return p.FirstDeal
	case TaskFirstRule:
		return p.FirstRule
	case TaskFirstInvite:
		return p.FirstInvite
	}
	return false
}

// Mark sets task and refreshes the derived counters. It never clears a flag.
func (p *OnboardingProgress) Mark(task Task) {
	switch task {
	case TaskFirstTarget:
		p.FirstTarget = true
	case TaskFirstDeal:
		p.FirstDeal = true
	case TaskFirstRule:
		p.FirstRule = true
	case TaskFirstInvite:
		p.FirstInvite = true
	}
	p.Recount()
}

// Recount derives CompletedCount and CompletionPercentage from the flags.
func (p *OnboardingProgress) Recount() {
	n := 0
	for _, done := range []bool{p.FirstTarget, p.FirstDeal, p.FirstRule, p.FirstInvite} {
		if done {
			n++
		}
	}
	p.CompletedCount = n
	p.CompletionPercentage = float64(n) / TaskCount * 100
}
