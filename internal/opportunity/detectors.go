package opportunity

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/db"
	"github.com/lalithlochan/slotwise/internal/timewindow"
)

// Overdue priority thresholds, in days past due.
const (
	overdueMediumDays = 7
	overdueHighDays   = 30
)

// detectEmptyPrioritySlots emits one candidate per priority block instance in
// the lookahead window that no occupying job overlaps.
func (s *Scanner) detectEmptyPrioritySlots(snap *Snapshot, p params) ([]Candidate, error) {
	blocks := s.validBlocks(snap)
	if len(blocks) == 0 {
		return nil, nil
	}
	jobs := s.occupyingJobs(snap)
	today := timewindow.DayStart(snap.Now, p.loc)

	var out []Candidate
	for d := 0; d < p.lookaheadDays; d++ {
		day := today.AddDate(0, 0, d)
		for _, b := range blocks {
			if b.DayOfWeek != day.Weekday() {
				continue
			}
			instance := timewindow.New(b.StartTime.On(day, p.loc), b.EndTime.On(day, p.loc))
			if !instance.End.After(snap.Now) || filled(instance, jobs) {
				continue
			}

			priority := db.PriorityMedium
			if instance.Start.Sub(snap.Now) <= p.urgentWithin {
				priority = db.PriorityHigh
			}

			md := db.EmptyPrioritySlotMetadata{
				BlockID:     b.ID,
				BlockName:   b.Name,
				Date:        timewindow.DateKey(day, p.loc),
				Time:        b.StartTime.String() + "-" + b.EndTime.String(),
				PriorityFor: b.PriorityFor,
			}
			title := fmt.Sprintf("%s is still open", b.Name)
			message := fmt.Sprintf("No job is booked for %s on %s from %s.",
				b.Name, instance.Start.Format("Mon Jan 2"), md.Time)
			if b.PriorityFor != "" {
				message += fmt.Sprintf(" It is reserved for %s.", b.PriorityFor)
			}

			c, err := newCandidate(title, message, priority, md)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// validBlocks drops blocks that belong to another business or whose end does
// not follow their start, sorted by start time so output stays chronological.
func (s *Scanner) validBlocks(snap *Snapshot) []*db.PriorityBlock {
	blocks := make([]*db.PriorityBlock, 0, len(snap.Blocks))
	for _, b := range snap.Blocks {
		var reason string
		switch {
		case b.BusinessID != snap.Business.ID:
			reason = "block references another business"
		case b.EndTime <= b.StartTime:
			reason = "block ends before it starts"
		}
		if reason != "" {
			s.logger.Warn("skipping priority block",
				zap.String("business_id", snap.Business.ID.String()),
				zap.String("block_id", b.ID.String()),
				zap.String("reason", reason),
				zap.Error(ErrDataInconsistent),
			)
			continue
		}
		blocks = append(blocks, b)
	}
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].StartTime < blocks[j].StartTime })
	return blocks
}

func filled(instance timewindow.Interval, jobs []*db.Job) bool {
	for _, j := range jobs {
		iv, _ := j.Interval()
		if timewindow.Overlaps(instance, iv) {
			return true
		}
	}
	return false
}

// detectGaps emits a candidate for each idle stretch between consecutive jobs
// on the same local day that is long enough to hold another job.
func (s *Scanner) detectGaps(snap *Snapshot, p params) ([]Candidate, error) {
	if p.minFillable <= 0 {
		return nil, fmt.Errorf("minimum fillable gap: %w", ErrConfigurationMissing)
	}

	today := timewindow.DayStart(snap.Now, p.loc)
	horizon := today.AddDate(0, 0, p.lookaheadDays)

	// Jobs are sorted by start, so same-day jobs are contiguous.
	var days [][]*db.Job
	for _, j := range s.occupyingJobs(snap) {
		start := *j.ScheduledStart
		if start.Before(today) || !start.Before(horizon) {
			continue
		}
		if n := len(days); n > 0 && timewindow.SameDay(*days[n-1][0].ScheduledStart, start, p.loc) {
			days[n-1] = append(days[n-1], j)
			continue
		}
		days = append(days, []*db.Job{j})
	}

	var out []Candidate
	for _, day := range days {
		prev := day[0]
		for _, next := range day[1:] {
			gap := timewindow.New(*prev.ScheduledEnd, *next.ScheduledStart)
			if !gap.Empty() && gap.End.After(snap.Now) {
				minutes := timewindow.DurationMinutes(gap)
				if minutes >= p.minFillable {
					c, err := gapCandidate(prev, next, gap, minutes, p)
					if err != nil {
						return nil, err
					}
					out = append(out, c)
				}
			}
			// An overlapping or nested job must not reopen time the previous one still holds.
			if next.ScheduledEnd.After(*prev.ScheduledEnd) {
				prev = next
			}
		}
	}
	return out, nil
}

func gapCandidate(before, after *db.Job, gap timewindow.Interval, minutes int, p params) (Candidate, error) {
	priority := db.PriorityMedium
	if minutes > p.largeGapMinutes {
		priority = db.PriorityHigh
	}

	md := db.GapOpportunityMetadata{
		GapStart:    gap.Start.UTC(),
		GapEnd:      gap.End.UTC(),
		GapMinutes:  minutes,
		BeforeJobID: before.ID,
		AfterJobID:  after.ID,
	}
	start := gap.Start.In(p.loc)
	title := fmt.Sprintf("%d minute gap on %s", minutes, start.Format("Mon Jan 2"))
	message := fmt.Sprintf("The calendar is free from %s to %s. There is room for another job.",
		start.Format("15:04"), gap.End.In(p.loc).Format("15:04"))
	return newCandidate(title, message, priority, md)
}

// detectOverdueCustomers emits a candidate for each customer whose last
// completed job is further back than their expected cadence.
func (s *Scanner) detectOverdueCustomers(snap *Snapshot, p params) ([]Candidate, error) {
	type overdue struct {
		customer *db.Customer
		days     int
	}

	var found []overdue
	for _, c := range snap.Customers {
		if c.LastJobDate == nil {
			continue
		}
		if c.BusinessID != snap.Business.ID {
			s.logger.Warn("skipping customer of another business",
				zap.String("business_id", snap.Business.ID.String()),
				zap.String("customer_id", c.ID.String()),
				zap.Error(ErrDataInconsistent),
			)
			continue
		}

		cadence := p.cadenceDays
		if c.CadenceDays != nil {
			cadence = *c.CadenceDays
		}
		if cadence <= 0 {
			continue
		}

		days := timewindow.DaysBetween(*c.LastJobDate, snap.Now, p.loc) - cadence
		if days > 0 {
			found = append(found, overdue{customer: c, days: days})
		}
	}

	// Longest overdue first: that is the earliest due date.
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].days != found[j].days {
			return found[i].days > found[j].days
		}
		return found[i].customer.ID.String() < found[j].customer.ID.String()
	})

	out := make([]Candidate, 0, len(found))
	for _, o := range found {
		c := o.customer
		md := db.CustomerOverdueMetadata{
			CustomerID:    c.ID,
			CustomerName:  c.Name,
			CustomerPhone: c.Phone,
			LastJobDate:   timewindow.DateKey(*c.LastJobDate, p.loc),
			DaysOverdue:   o.days,
		}
		title := fmt.Sprintf("%s is due for a visit", c.Name)
		message := fmt.Sprintf("%s was last serviced on %s and is %s overdue.",
			c.Name, md.LastJobDate, pluralDays(o.days))

		cand, err := newCandidate(title, message, OverduePriority(o.days), md)
		if err != nil {
			return nil, err
		}
		out = append(out, cand)
	}
	return out, nil
}

// OverduePriority maps days overdue to a priority. Boundary values belong to
// the higher bucket.
func OverduePriority(daysOverdue int) string {
	switch {
	case daysOverdue < overdueMediumDays:
		return db.PriorityLow
	case daysOverdue < overdueHighDays:
		return db.PriorityMedium
	default:
		return db.PriorityHigh
	}
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}
