// Package datetime parses the small vocabulary of dates and times users type
// while booking an appointment, and formats values for Colombian readers.
//
// Parsing is best-effort. Input outside the vocabulary is returned unchanged
// so the booking still records what the user wrote.
package datetime

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/araddon/dateparse"

	"github.com/legalmeet/intake/internal/fold"
)

// Location is America/Bogota, or a fixed UTC-5 zone when tzdata is missing.
// Colombia has no daylight saving so both are equivalent.
var Location = loadLocation()

func loadLocation() *time.Location {
	loc, err := time.LoadLocation("America/Bogota")
	if err != nil {
		return time.FixedZone("COT", -5*60*60)
	}
	return loc
}

// Parser is the behavior the appointment workflow needs. Standard is the
// implementation backed by this package.
type Parser interface {
	ParseDate(input string, now time.Time) (time.Time, bool)
	ParseTime(input string) string
	DescribeDate(input string, now time.Time) string
	FormatShort(t time.Time) string
}

// Standard implements Parser with the package-level functions.
type Standard struct{}

func (Standard) ParseDate(input string, now time.Time) (time.Time, bool) {
	return ParseDate(input, now)
}
func (Standard) ParseTime(input string) string { return ParseTime(input) }
func (Standard) DescribeDate(input string, now time.Time) string {
	return DescribeDate(input, now)
}
func (Standard) FormatShort(t time.Time) string { return FormatShort(t) }

var weekdays = []struct {
	day   time.Weekday
	names []string
}{
	{time.Sunday, []string{"domingo", "sunday"}},
	{time.Monday, []string{"lunes", "monday"}},
	{time.Tuesday, []string{"martes", "tuesday"}},
	{time.Wednesday, []string{"miercoles", "wednesday"}},
	{time.Thursday, []string{"jueves", "thursday"}},
	{time.Friday, []string{"viernes", "friday"}},
	{time.Saturday, []string{"sabado", "saturday"}},
}

// ParseDate resolves relative day words ("hoy", "mañana", "pasado mañana")
// and weekday names in Spanish or English to a calendar day in Bogota.
// Weekdays resolve to the next occurrence strictly after today. Numeric
// dates ("20/11/2025", "2025-11-20") are read day first. The result is
// midnight of that day.
func ParseDate(input string, now time.Time) (time.Time, bool) {
	if t, ok := calendarDate(input); ok {
		return t, true
	}
	today := midnight(now.In(Location))

	switch {
	case fold.ContainsPhrase(input, "pasado mañana"), fold.ContainsPhrase(input, "day after tomorrow"):
		return today.AddDate(0, 0, 2), true
	case fold.ContainsPhrase(input, "hoy"), fold.ContainsPhrase(input, "today"):
		return today, true
	case fold.ContainsPhrase(input, "mañana"), fold.ContainsPhrase(input, "tomorrow"):
		return today.AddDate(0, 0, 1), true
	}

	for _, w := range weekdays {
		for _, name := range w.names {
			if !fold.ContainsPhrase(input, name) {
				continue
			}
			ahead := int(w.day - today.Weekday())
			if ahead <= 0 {
				ahead += 7
			}
			return today.AddDate(0, 0, ahead), true
		}
	}
	return time.Time{}, false
}

var numericDateRe = regexp.MustCompile(`\d{1,4}[/.-]\d{1,2}[/.-]\d{1,4}`)

func calendarDate(input string) (time.Time, bool) {
	m := numericDateRe.FindString(input)
	if m == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseIn(m, Location, dateparse.PreferMonthFirst(false))
	if err != nil {
		return time.Time{}, false
	}
	return midnight(t.In(Location)), true
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

var (
	meridiemRe = regexp.MustCompile(`(\d{1,2})(?::(\d{2}))?\s*(a\.?\s?m\.?|p\.?\s?m\.?)`)
	partOfDay  = regexp.MustCompile(`(\d{1,2})(?::(\d{2}))?\s*(?:de la|en la|por la)\s*(manana|tarde|noche)`)
	clockRe    = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
)

// ParseTime normalizes "2pm", "3:30 p.m.", "10 de la mañana" or "15:00" to
// a 12-hour "hh:MM AM|PM" string. Anything else is returned unchanged.
func ParseTime(input string) string {
	s := fold.String(input)

	if m := meridiemRe.FindStringSubmatch(s); m != nil {
		pm := m[3][0] == 'p'
		if out, ok := twelveHour(m[1], m[2], pm); ok {
			return out
		}
		return input
	}
	if m := partOfDay.FindStringSubmatch(s); m != nil {
		if out, ok := twelveHour(m[1], m[2], m[3] != "manana"); ok {
			return out
		}
		return input
	}
	if m := clockRe.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		if h <= 23 {
			if out, ok := twelveHour(strconv.Itoa(h%12), m[2], h >= 12); ok {
				return out
			}
		}
	}
	return input
}

// twelveHour formats hour and minute strings as "hh:MM AM|PM". Hours 13 to 23
// are accepted with a PM marker ("14:00 pm"), and hour 0 means 12.
func twelveHour(hour, minute string, pm bool) (string, bool) {
	h, err := strconv.Atoi(hour)
	if err != nil {
		return "", false
	}
	if minute == "" {
		minute = "00"
	}
	if mm, err := strconv.Atoi(minute); err != nil || mm > 59 {
		return "", false
	}
	switch {
	case h == 0:
		h = 12
	case h > 12 && h <= 23 && pm:
		h -= 12
	case h > 12:
		return "", false
	}
	period := "AM"
	if pm {
		period = "PM"
	}
	return fmt.Sprintf("%02d:%s %s", h, minute, period), true
}

var (
	dayNames = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}

	monthNames = [...]string{
		"enero", "febrero", "marzo", "abril", "mayo", "junio",
		"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
	}
)

// LongDate formats t as "jueves, 20 de noviembre de 2025".
func LongDate(t time.Time) string {
	t = t.In(Location)
	return fmt.Sprintf("%s, %d de %s de %d",
		dayNames[t.Weekday()], t.Day(), monthNames[t.Month()-1], t.Year())
}

// DescribeDate renders a recognized date phrase in Spanish long form.
// Unrecognized input is returned unchanged.
func DescribeDate(input string, now time.Time) string {
	t, ok := ParseDate(input, now)
	if !ok {
		return input
	}
	return LongDate(t)
}

// FormatShort formats t as "DD/MM/YYYY hh:mm AM|PM" in Bogota time.
func FormatShort(t time.Time) string {
	return t.In(Location).Format("02/01/2006 03:04 PM")
}
