package timetable

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    Clock
		wantErr bool
	}{
		{in: "00:00", want: 0},
		{in: "08:30", want: 8*60 + 30},
		{in: "23:59", want: 23*60 + 59},
		{in: "24:00", want: 24 * 60},
		{in: "24:01", wantErr: true},
		{in: "25:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "8:30", wantErr: true},
		{in: "08h30", wantErr: true},
		{in: "+8:30", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidClock)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestClockJSON(t *testing.T) {
	var p struct {
		Start Clock `json:"start"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"start":"07:45"}`), &p))
	assert.Equal(t, Clock(7*60+45), p.Start)

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"07:45"}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"start":745}`), &p))
}

func TestSpanOverlaps(t *testing.T) {
	span := func(start, end string) Span {
		s, _ := ParseClock(start)
		e, _ := ParseClock(end)
		return Span{Start: s, End: e}
	}

	tests := []struct {
		name string
		a, b Span
		want bool
	}{
		{name: "identical", a: span("08:00", "09:00"), b: span("08:00", "09:00"), want: true},
		{name: "partial", a: span("08:00", "09:00"), b: span("08:30", "09:30"), want: true},
		{name: "contained", a: span("08:00", "12:00"), b: span("10:00", "10:40"), want: true},
		{name: "one minute", a: span("08:00", "09:00"), b: span("08:59", "10:00"), want: true},
		{name: "touching after", a: span("08:00", "09:00"), b: span("09:00", "10:00"), want: false},
		{name: "touching before", a: span("09:00", "10:00"), b: span("08:00", "09:00"), want: false},
		{name: "apart", a: span("08:00", "09:00"), b: span("13:00", "14:00"), want: false},
		{name: "until midnight", a: span("23:00", "24:00"), b: span("23:30", "23:45"), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(tt.a), "Overlaps must be symmetric")
		})
	}
}

func TestSpanValid(t *testing.T) {
	assert.True(t, Span{Start: 0, End: 1}.Valid())
	assert.True(t, Span{Start: 60, End: endOfDay}.Valid())
	assert.False(t, Span{Start: 60, End: 60}.Valid())
	assert.False(t, Span{Start: 120, End: 60}.Valid())
	assert.False(t, Span{Start: 60, End: endOfDay + 1}.Valid())
}
