package availability

import (
	"errors"
	"testing"
	"time"

	"github.com/lalithlochan/slotwise/internal/db"
	"github.com/lalithlochan/slotwise/internal/timewindow"
)

func TestValidateSlot(t *testing.T) {
	rules := Rules{
		Hours:              weekdayHours("09:00", "17:00"),
		Location:           time.UTC,
		BufferAfterMinutes: 15,
	}
	existing := []*db.Job{job(at("10:00"), at("11:00"), db.JobStatusConfirmed)}

	tests := []struct {
		name    string
		slot    Slot
		wantErr error
	}{
		{"free slot", Slot{Start: at("13:00"), End: at("14:00")}, nil},
		{"ends as job starts", Slot{Start: at("09:00"), End: at("10:00")}, nil},
		{"inside buffer after job", Slot{Start: at("11:00"), End: at("12:00")}, ErrSlotTaken},
		{"after buffer", Slot{Start: at("11:15"), End: at("12:15")}, nil},
		{"overlaps job", Slot{Start: at("10:30"), End: at("11:30")}, ErrSlotTaken},
		{"before opening", Slot{Start: at("08:30"), End: at("09:30")}, ErrOutsideBusinessHours},
		{"past closing", Slot{Start: at("16:30"), End: at("17:30")}, ErrOutsideBusinessHours},
		{"closed day", Slot{Start: at("10:00").AddDate(0, 0, -1), End: at("11:00").AddDate(0, 0, -1)}, ErrOutsideBusinessHours},
		{"inverted", Slot{Start: at("14:00"), End: at("13:00")}, ErrInvalidSlot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSlot(rules, tt.slot, existing)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateSlot_OvernightWindow(t *testing.T) {
	rules := Rules{
		Hours: timewindow.WorkingHours{
			time.Monday: {{Open: timewindow.MustClock("22:00"), Close: timewindow.MustClock("02:00")}},
		},
		Location: time.UTC,
	}

	tests := []struct {
		name    string
		slot    Slot
		wantErr error
	}{
		{"across midnight", Slot{Start: at("23:30"), End: at("23:30").Add(time.Hour)}, nil},
		{"after midnight", Slot{Start: monday.Add(25 * time.Hour), End: monday.Add(26 * time.Hour)}, nil},
		{"past close", Slot{Start: monday.Add(25 * time.Hour), End: monday.Add(27 * time.Hour)}, ErrOutsideBusinessHours},
		{"before open", Slot{Start: at("21:30"), End: at("22:30")}, ErrOutsideBusinessHours},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSlot(rules, tt.slot, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateSlot_CancelledJobDoesNotBlock(t *testing.T) {
	rules := Rules{Hours: weekdayHours("09:00", "17:00"), Location: time.UTC}
	existing := []*db.Job{job(at("10:00"), at("11:00"), db.JobStatusCancelled)}

	if err := ValidateSlot(rules, Slot{Start: at("10:00"), End: at("11:00")}, existing); err != nil {
		t.Errorf("expected cancelled job to free its slot, got %v", err)
	}
}
