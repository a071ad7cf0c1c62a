package appointment

import (
	"fmt"
	"time"
)

type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// SlotTemplate is the ordered set of time ranges offered on every operating day.
type SlotTemplate []TimeRange

// Validate checks that every range is well formed and that ranges are
// sorted ascending by start and do not overlap.
func (t SlotTemplate) Validate() error {
	if len(t) == 0 {
		return NewValidationError("template", "must contain at least one range")
	}
	prevEnd := -1
	for i, r := range t {
		start, err := parseClock(r.Start)
		if err != nil {
			return NewValidationError(fmt.Sprintf("template[%d].start", i), err.Error())
		}
		end, err := parseClock(r.End)
		if err != nil {
			return NewValidationError(fmt.Sprintf("template[%d].end", i), err.Error())
		}
		if end <= start {
			return NewValidationError(fmt.Sprintf("template[%d]", i), "end must be after start")
		}
		if start < prevEnd {
			return NewValidationError(fmt.Sprintf("template[%d]", i), "ranges must be sorted and non-overlapping")
		}
		prevEnd = end
	}
	return nil
}

// BuildSlotTemplate cuts [first, last) into consecutive units of the given length.
func BuildSlotTemplate(first, last string, unit time.Duration) (SlotTemplate, error) {
	from, err := parseClock(first)
	if err != nil {
		return nil, NewValidationError("first", err.Error())
	}
	to, err := parseClock(last)
	if err != nil {
		return nil, NewValidationError("last", err.Error())
	}
	step := int(unit / time.Minute)
	if step <= 0 {
		return nil, NewValidationError("unit", "must be at least one minute")
	}

	var t SlotTemplate
	for cur := from; cur+step <= to; cur += step {
		t = append(t, TimeRange{Start: formatClock(cur), End: formatClock(cur + step)})
	}
	if len(t) == 0 {
		return nil, NewValidationError("last", "window is shorter than one unit")
	}
	return t, nil
}

// DefaultSlotTemplate is 30 minute units from 09:00 to 17:00.
func DefaultSlotTemplate() SlotTemplate {
	t, _ := BuildSlotTemplate("09:00", "17:00", 30*time.Minute)
	return t
}
