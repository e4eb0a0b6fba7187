package models

import (
	"math"
	"sort"
	"strings"
	"time"
)

// TotalBibleVerses is the verse count used for the completion percentage.
const TotalBibleVerses = 31102

// MaxTopReferences caps UpdateStatsResponse.TopReferences.
const MaxTopReferences = 100

// StatsEpoch is the start of the "all" statistics range.
var StatsEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type ReferenceCount struct {
	Reference string `json:"reference"`
	Count     int    `json:"count"`
}

type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

type WeekdayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

type StatsDateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Days  int    `json:"days"`
}

type UpdateStatsSummary struct {
	TotalUpdates      int            `json:"total_updates"`
	UniqueReferences  int            `json:"unique_references"`
	AverageDaily      float64        `json:"average_daily"`
	CompletionPercent float64        `json:"bible_completion_percentage"`
	DateRange         StatsDateRange `json:"date_range"`
	MostActiveDay     *DayCount      `json:"most_active_day,omitempty"`
}

// UpdateStatsResponse aggregates the update log over a date range.
type UpdateStatsResponse struct {
	Summary        UpdateStatsSummary `json:"summary"`
	DailyUpdates   []DayCount         `json:"daily_updates"`
	TopReferences  []ReferenceCount   `json:"top_references"`
	HourlyPattern  []HourCount        `json:"hourly_pattern"`
	WeekdayPattern []WeekdayCount     `json:"weekday_pattern"`
}

// NewUpdateStats builds statistics for updates dated between start and end.
// Days are bucketed in end's location. Every calendar day in the range gets a
// DailyUpdates entry, zero when nothing was logged.
func NewUpdateStats(updates []*TranslationUpdate, start, end time.Time) *UpdateStatsResponse {
	loc := end.Location()
	start = start.In(loc)

	daily := make(map[string]int)
	refs := make(map[string]int)
	unique := make(map[string]bool)
	var hours [24]int
	var weekdays [7]int

	for _, u := range updates {
		at := u.Date.In(loc)
		daily[at.Format(time.DateOnly)]++
		hours[at.Hour()]++
		weekdays[at.Weekday()]++

		unique[u.Reference] = true
		ref := strings.TrimSpace(u.Reference)
		if ref == "" || ref == "[]" {
			continue
		}
		refs[ref]++
	}

	days := int(end.Sub(start).Hours() / 24)
	resp := &UpdateStatsResponse{
		Summary: UpdateStatsSummary{
			TotalUpdates:      len(updates),
			UniqueReferences:  len(unique),
			AverageDaily:      math.Round(float64(len(updates)) / float64(max(days, 1))),
			CompletionPercent: math.Round(float64(len(unique))/TotalBibleVerses*10000) / 100,
			DateRange: StatsDateRange{
				Start: start.Format(time.DateOnly),
				End:   end.Format(time.DateOnly),
				Days:  days,
			},
		},
		DailyUpdates:   []DayCount{},
		TopReferences:  []ReferenceCount{},
		HourlyPattern:  make([]HourCount, 24),
		WeekdayPattern: make([]WeekdayCount, 0, 7),
	}

	first := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	for d := first; !d.After(end); d = d.AddDate(0, 0, 1) {
		key := d.Format(time.DateOnly)
		dc := DayCount{Date: key, Count: daily[key]}
		resp.DailyUpdates = append(resp.DailyUpdates, dc)
		if dc.Count > 0 && (resp.Summary.MostActiveDay == nil || dc.Count > resp.Summary.MostActiveDay.Count) {
			best := dc
			resp.Summary.MostActiveDay = &best
		}
	}

	for ref, n := range refs {
		resp.TopReferences = append(resp.TopReferences, ReferenceCount{Reference: ref, Count: n})
	}
	sort.Slice(resp.TopReferences, func(i, j int) bool {
		a, b := resp.TopReferences[i], resp.TopReferences[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Reference < b.Reference
	})
	if len(resp.TopReferences) > MaxTopReferences {
		resp.TopReferences = resp.TopReferences[:MaxTopReferences]
	}

	for h := range hours {
		resp.HourlyPattern[h] = HourCount{Hour: h, Count: hours[h]}
	}
	// Monday first.
	for i := 1; i <= 7; i++ {
		wd := time.Weekday(i % 7)
		resp.WeekdayPattern = append(resp.WeekdayPattern, WeekdayCount{Day: wd.String(), Count: weekdays[wd]})
	}
	return resp
}
