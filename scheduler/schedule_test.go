package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		want    Schedule
		text    string
		wantErr bool
	}{
		{expr: "0 * * * *", want: Hourly(0), text: "0 * * * *"},
		{expr: "30 3 * * *", want: Daily(3, 30), text: "30 3 * * *"},
		{expr: "0 4 * * 1", want: Weekly(time.Monday, 4, 0), text: "0 4 * * 1"},
		{expr: "*/15 * * * *", want: EveryMinutes(15), text: "0,15,30,45 * * * *"},
		{expr: "0 9-11 * * 7", want: Schedule{Minute: Field{0}, Hour: Field{9, 10, 11}, DayOfWeek: Field{0}}, text: "0 9,10,11 * * 0"},
		{expr: "5,5,1 * * * *", want: Schedule{Minute: Field{1, 5}}, text: "1,5 * * * *"},
		{expr: "0 * * *", wantErr: true},
		{expr: "0 0 1 * *", wantErr: true},
		{expr: "60 * * * *", wantErr: true},
		{expr: "0 5-2 * * *", wantErr: true},
		{expr: "*/0 * * * *", wantErr: true},
		{expr: "x * * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseSchedule(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.text, got.String())
		})
	}
}

func TestSchedule_Next(t *testing.T) {
	base := time.Date(2026, time.March, 4, 10, 20, 0, 0, time.UTC) // Wednesday

	tests := []struct {
		name  string
		sched Schedule
		loc   *time.Location
		want  time.Time
	}{
		{"hourly", Hourly(0), time.UTC, time.Date(2026, time.March, 4, 11, 0, 0, 0, time.UTC)},
		{"daily later today", Daily(23, 0), time.UTC, time.Date(2026, time.March, 4, 23, 0, 0, 0, time.UTC)},
		{"daily tomorrow", Daily(3, 0), time.UTC, time.Date(2026, time.March, 5, 3, 0, 0, 0, time.UTC)},
		{"weekly monday", Weekly(time.Monday, 4, 0), time.UTC, time.Date(2026, time.March, 9, 4, 0, 0, 0, time.UTC)},
		{"every 15", EveryMinutes(15), time.UTC, time.Date(2026, time.March, 4, 10, 30, 0, 0, time.UTC)},
		// 03:00 at UTC+2 is 01:00 UTC.
		{"daily in zone", Daily(3, 0), time.FixedZone("UTC+2", 2*3600), time.Date(2026, time.March, 5, 1, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.sched.Next(base, tt.loc)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}

	_, err := Schedule{Hour: Field{24}}.Next(base, time.UTC)
	assert.Error(t, err)
}

func TestSchedule_Validate(t *testing.T) {
	assert.NoError(t, Schedule{}.Validate())
	assert.NoError(t, Weekly(time.Saturday, 23, 59).Validate())
	assert.Error(t, Schedule{Minute: Field{}}.Validate())
	assert.Error(t, Schedule{DayOfWeek: Field{7}}.Validate())
	assert.Error(t, Schedule{Minute: Field{-1}}.Validate())
}
