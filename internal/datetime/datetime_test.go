package datetime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Tuesday 18 November 2025, 09:30 in Bogota.
var tuesday = time.Date(2025, 11, 18, 9, 30, 0, 0, Location)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hoy", "2025-11-18"},
		{"Today please", "2025-11-18"},
		{"mañana", "2025-11-19"},
		{"MANANA en la tarde", "2025-11-19"},
		{"tomorrow", "2025-11-19"},
		{"pasado mañana", "2025-11-20"},
		{"day after tomorrow", "2025-11-20"},
		{"el jueves", "2025-11-20"},
		{"Miércoles", "2025-11-19"},
		{"monday", "2025-11-24"},
		{"el martes", "2025-11-25"},
		{"sábado", "2025-11-22"},
		{"20/11/2025", "2025-11-20"},
		{"el 05/12/2025", "2025-12-05"},
		{"2025-12-24", "2025-12-24"},
	}
	for _, tt := range tests {
		got, ok := ParseDate(tt.in, tuesday)
		if !assert.True(t, ok, tt.in) {
			continue
		}
		assert.Equal(t, tt.want, got.Format("2006-01-02"), tt.in)
		assert.Equal(t, 0, got.Hour(), tt.in)
	}
}

func TestParseDateUnknown(t *testing.T) {
	for _, in := range []string{"25 de noviembre", "cuando puedas", "", "45/45/2025"} {
		_, ok := ParseDate(in, tuesday)
		assert.False(t, ok, in)
	}
}

func TestParseTime(t *testing.T) {
	tests := map[string]string{
		"2pm":             "02:00 PM",
		"3:30 pm":         "03:30 PM",
		"10 a.m.":         "10:00 AM",
		"12am":            "12:00 AM",
		"12 pm":           "12:00 PM",
		"a las 9:15am":    "09:15 AM",
		"14:00 pm":        "02:00 PM",
		"10 de la mañana": "10:00 AM",
		"3 de la tarde":   "03:00 PM",
		"15:45":           "03:45 PM",
		"00:10":           "12:10 AM",
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseTime(in), in)
	}
}

func TestParseTimeReturnsUnknownInputUnchanged(t *testing.T) {
	for _, in := range []string{"en la tarde", "cuando pueda", "25:00", "7:75 pm"} {
		assert.Equal(t, in, ParseTime(in))
	}
}

func TestDescribeDate(t *testing.T) {
	assert.Equal(t, "jueves, 20 de noviembre de 2025", DescribeDate("el jueves", tuesday))
	assert.Equal(t, "miércoles, 19 de noviembre de 2025", DescribeDate("mañana", tuesday))
	assert.Equal(t, "25 de noviembre", DescribeDate("25 de noviembre", tuesday))
	assert.Equal(t, "viernes, 5 de diciembre de 2025", DescribeDate("05/12/2025", tuesday))
}

func TestFormatShort(t *testing.T) {
	utc := time.Date(2025, 11, 18, 19, 5, 0, 0, time.UTC)
	assert.Equal(t, "18/11/2025 02:05 PM", FormatShort(utc))
}

func TestStandardImplementsParser(t *testing.T) {
	var p Parser = Standard{}
	assert.Equal(t, "02:00 PM", p.ParseTime("2pm"))
}
