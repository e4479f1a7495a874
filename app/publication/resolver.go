// Package publication decides when and how finished content goes live and
// hands it to the publishing collaborator.
package publication

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/lysyi3m/autopress/app/database"
	"github.com/lysyi3m/autopress/app/errs"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPublish Status = "publish"
	StatusFuture  Status = "future"
)

// PastSlotBuffer is added to now when a computed rolling slot already passed.
const PastSlotBuffer = 2 * time.Minute

type Input struct {
	Now time.Time
	// RollingCompleted counts other completed tasks of the campaign published
	// in rolling_schedule mode.
	RollingCompleted int
}

type Resolution struct {
	Status Status
	Date   *time.Time
	Mode   string
}

// Resolve has no side effects: the task override wins over the campaign policy.
func Resolve(task *database.Task, campaign *database.Campaign, in Input) (Resolution, error) {
	if task == nil || campaign == nil {
		return Resolution{}, &errs.PublicationError{Reason: "task and campaign are required"}
	}

	if task.PubOverride {
		return resolveOverride(task, in.Now)
	}
	return resolveCampaign(task.ID, campaign.Publication, in)
}

func resolveOverride(task *database.Task, now time.Time) (Resolution, error) {
	switch task.PubMode {
	case database.PublishPendingReview:
		return Resolution{Status: StatusPending, Mode: task.PubMode}, nil
	case database.PublishInstantly:
		return Resolution{Status: StatusPublish, Mode: task.PubMode}, nil
	case database.PublishSetDate:
		if task.PubDate == nil {
			return Resolution{}, &errs.PublicationError{TaskID: task.ID, Reason: "set_date override without a publication date"}
		}
		date := task.PubDate.Add(jitter(task.ID, task.PubRandomRange))
		if !date.After(now) {
			return Resolution{Status: StatusPublish, Mode: database.PublishInstantly}, nil
		}
		return Resolution{Status: StatusFuture, Date: &date, Mode: task.PubMode}, nil
	default:
		return Resolution{}, &errs.PublicationError{TaskID: task.ID, Reason: fmt.Sprintf("unknown override mode %q", task.PubMode)}
	}
}

func resolveCampaign(taskID int64, policy database.PublicationPolicy, in Input) (Resolution, error) {
	switch policy.Mode {
	case database.PublishPendingReview:
		return Resolution{Status: StatusPending, Mode: policy.Mode}, nil

	case database.PublishInstantly:
		return Resolution{Status: StatusPublish, Mode: policy.Mode}, nil

	case database.PublishIntervals:
		var unit time.Duration
		switch policy.IntervalUnit {
		case "minute":
			unit = time.Minute
		case "hour":
			unit = time.Hour
		default:
			return Resolution{}, &errs.PublicationError{TaskID: taskID, Reason: fmt.Sprintf("invalid interval unit %q", policy.IntervalUnit)}
		}
		if policy.IntervalValue <= 0 {
			return Resolution{}, &errs.PublicationError{TaskID: taskID, Reason: "interval value must be positive"}
		}
		date := in.Now.Add(time.Duration(policy.IntervalValue) * unit)
		return Resolution{Status: StatusFuture, Date: &date, Mode: policy.Mode}, nil

	case database.PublishRolling:
		if policy.RollingDays <= 0 {
			return Resolution{}, &errs.PublicationError{TaskID: taskID, Reason: "rolling window must be positive"}
		}
		if policy.PublishHour < 0 || policy.PublishHour > 23 {
			return Resolution{}, &errs.PublicationError{TaskID: taskID, Reason: fmt.Sprintf("invalid publish hour %d", policy.PublishHour)}
		}
		offset := RollingOffset(in.RollingCompleted, policy.RollingDays)
		date := time.Date(in.Now.Year(), in.Now.Month(), in.Now.Day()+offset, policy.PublishHour, 0, 0, 0, in.Now.Location())
		if !date.After(in.Now) {
			date = in.Now.Add(PastSlotBuffer)
		}
		return Resolution{Status: StatusFuture, Date: &date, Mode: policy.Mode}, nil

	default:
		return Resolution{}, &errs.PublicationError{TaskID: taskID, Reason: fmt.Sprintf("unknown publication mode %q", policy.Mode)}
	}
}

// RollingOffset is the day bucket, counted from today, for the next rolling task.
func RollingOffset(completed, window int) int {
	if window <= 0 || completed < 0 {
		return 0
	}
	return completed % window
}

// jitter spreads set_date overrides over [0, rangeMinutes] minutes. It is
// derived from the task id so resolving twice yields the same date.
func jitter(taskID int64, rangeMinutes int) time.Duration {
	if rangeMinutes <= 0 {
		return 0
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%d", taskID)
	return time.Duration(h.Sum64()%uint64(rangeMinutes+1)) * time.Minute
}
