package timewindow

import (
	"encoding/json"
	"testing"
	"time"
)

func at(hhmm string) time.Time {
	c := MustClock(hhmm)
	return time.Date(2026, 10, 12, int(c)/60, int(c)%60, 0, 0, time.UTC)
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"disjoint", New(at("09:00"), at("10:00")), New(at("11:00"), at("12:00")), false},
		{"touching", New(at("09:00"), at("10:00")), New(at("10:00"), at("11:00")), false},
		{"partial", New(at("09:00"), at("10:30")), New(at("10:00"), at("11:00")), true},
		{"contained", New(at("09:00"), at("12:00")), New(at("10:00"), at("11:00")), true},
		{"zero length inside", New(at("09:00"), at("12:00")), New(at("10:00"), at("10:00")), false},
		{"inverted", New(at("12:00"), at("09:00")), New(at("10:00"), at("11:00")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overlaps(tt.a, tt.b); got != tt.want {
				t.Errorf("Overlaps() = %v, want %v", got, tt.want)
			}
			if got := Overlaps(tt.b, tt.a); got != tt.want {
				t.Errorf("Overlaps() not symmetric: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDurationMinutes(t *testing.T) {
	iv := New(at("09:00"), at("10:30").Add(59*time.Second))
	if got := DurationMinutes(iv); got != 90 {
		t.Errorf("expected 90, got %d", got)
	}
	if got := DurationMinutes(New(at("10:00"), at("09:00"))); got != 0 {
		t.Errorf("expected 0 for inverted interval, got %d", got)
	}
}

func TestSubtract(t *testing.T) {
	free := []Interval{New(at("09:00"), at("17:00"))}
	busy := []Interval{
		New(at("10:00"), at("11:00")),
		New(at("10:30"), at("11:30")),
		New(at("16:30"), at("18:00")),
	}

	got := Subtract(free, busy)
	want := []Interval{
		New(at("09:00"), at("10:00")),
		New(at("11:30"), at("16:30")),
	}

	if len(got) != len(want) {
		t.Fatalf("expected %d pieces, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Errorf("piece %d: got %v-%v, want %v-%v", i, got[i].Start, got[i].End, want[i].Start, want[i].End)
		}
	}
}

func TestSubtract_BusyCoversAll(t *testing.T) {
	free := []Interval{New(at("09:00"), at("10:00"))}
	busy := []Interval{New(at("08:00"), at("11:00"))}
	if got := Subtract(free, busy); len(got) != 0 {
		t.Errorf("expected nothing free, got %+v", got)
	}
}

func TestMerge(t *testing.T) {
	got := Merge([]Interval{
		New(at("13:00"), at("14:00")),
		New(at("09:00"), at("10:00")),
		New(at("10:00"), at("11:00")),
		New(at("12:00"), at("12:00")),
	})
	if len(got) != 2 {
		t.Fatalf("expected 2 merged intervals, got %d: %+v", len(got), got)
	}
	if !got[0].End.Equal(at("11:00")) {
		t.Errorf("touching intervals should merge, got end %v", got[0].End)
	}
}

func TestClipToBusinessHours(t *testing.T) {
	hours := WorkingHours{
		time.Monday: {{Open: MustClock("09:00"), Close: MustClock("12:00")}, {Open: MustClock("13:00"), Close: MustClock("17:00")}},
	}

	// 2026-10-12 is a Monday.
	got := ClipToBusinessHours(New(at("08:00"), at("14:00")), hours, time.UTC)
	if len(got) != 2 {
		t.Fatalf("expected 2 pieces, got %d: %+v", len(got), got)
	}
	if !got[0].Start.Equal(at("09:00")) || !got[0].End.Equal(at("12:00")) {
		t.Errorf("unexpected first piece %+v", got[0])
	}
	if !got[1].Start.Equal(at("13:00")) || !got[1].End.Equal(at("14:00")) {
		t.Errorf("unexpected second piece %+v", got[1])
	}
}

func TestClipToBusinessHours_AcrossMidnight(t *testing.T) {
	hours := WorkingHours{
		time.Monday: {{Open: MustClock("22:00"), Close: MustClock("02:00")}},
	}

	iv := New(at("21:00"), at("21:00").Add(6*time.Hour))
	got := ClipToBusinessHours(iv, hours, time.UTC)
	if len(got) != 2 {
		t.Fatalf("expected window split at midnight, got %d pieces: %+v", len(got), got)
	}
	midnight := time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC)
	if !got[0].End.Equal(midnight) || !got[1].Start.Equal(midnight) {
		t.Errorf("expected split at %v, got %+v", midnight, got)
	}
	if !got[1].End.Equal(midnight.Add(2 * time.Hour)) {
		t.Errorf("expected second piece to end at 02:00, got %v", got[1].End)
	}
}

func TestClipToBusinessHours_Closed(t *testing.T) {
	hours := WorkingHours{time.Tuesday: {{Open: MustClock("09:00"), Close: MustClock("17:00")}}}
	if got := ClipToBusinessHours(New(at("09:00"), at("17:00")), hours, time.UTC); len(got) != 0 {
		t.Errorf("expected no hours on a closed day, got %+v", got)
	}
}

func TestSameDayAndDaysBetween(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// 02:00 UTC on the 13th is still the 12th in New York.
	a := time.Date(2026, 10, 12, 15, 0, 0, 0, time.UTC)
	b := time.Date(2026, 10, 13, 2, 0, 0, 0, time.UTC)
	if !SameDay(a, b, loc) {
		t.Error("expected same local day")
	}
	if SameDay(a, b, time.UTC) {
		t.Error("expected different UTC days")
	}
	if got := DaysBetween(a, b.AddDate(0, 0, 3), loc); got != 3 {
		t.Errorf("expected 3 days, got %d", got)
	}
}

func TestWorkingHoursJSON(t *testing.T) {
	raw := `{"monday":[{"open":"09:00","close":"17:00"}],"Saturday":[{"open":"10:00","close":"14:30"}]}`

	var h WorkingHours
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(h[time.Monday]) != 1 || h[time.Monday][0].Close != MustClock("17:00") {
		t.Errorf("unexpected monday hours: %+v", h[time.Monday])
	}
	if h[time.Saturday][0].Close.String() != "14:30" {
		t.Errorf("unexpected saturday close: %s", h[time.Saturday][0].Close)
	}

	if err := json.Unmarshal([]byte(`{"funday":[]}`), &h); err == nil {
		t.Error("expected error for unknown weekday")
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    ClockTime
		wantErr bool
	}{
		{"09:00", 540, false},
		{"24:00", 1440, false},
		{"23:59", 1439, false},
		{"24:01", 0, true},
		{"9am", 0, true},
		{"12:60", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseClock(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseClock(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestWindowsTouching_IncludesPreviousNight(t *testing.T) {
	hours := WorkingHours{
		time.Sunday: {{Open: MustClock("22:00"), Close: MustClock("03:00")}},
		time.Monday: {{Open: MustClock("09:00"), Close: MustClock("12:00")}, {Open: MustClock("12:00"), Close: MustClock("17:00")}},
	}

	got := hours.WindowsTouching(New(at("01:00"), at("10:00")), time.UTC)
	if len(got) != 2 {
		t.Fatalf("expected Sunday's overnight window and Monday's merged day, got %+v", got)
	}
	if !got[0].End.Equal(at("03:00")) {
		t.Errorf("overnight window should end 03:00 Monday, got %v", got[0].End)
	}
	if !got[1].Start.Equal(at("09:00")) || !got[1].End.Equal(at("17:00")) {
		t.Errorf("touching windows should merge into 09:00-17:00, got %+v", got[1])
	}
}
