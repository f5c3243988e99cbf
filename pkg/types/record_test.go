package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRowRoundTrip(t *testing.T) {
	rec := &BlockMetadataRecord{
		SourceFile:     "site/plan.dwg",
		Handle:         "1F",
		Name:           "Door_36",
		Description:    "36\" door, with \"quotes\", commas\nand a newline",
		Layer:          "ARCH",
		Width:          36.501,
		Height:         4.25,
		EntityCount:    7,
		HasAttributes:  true,
		AttributeNames: []string{"SIZE", "FIRE_RATING"},
		Units:          UnitsImperial,
		LastModified:   time.Date(2024, 3, 15, 10, 30, 0, 0, time.Local),
		Author:         "jdoe",
		Category:       "doors",
	}

	row := rec.ToRow()
	require.Len(t, row, len(RecordColumns))
	assert.Equal(t, "36.501", row[3])
	assert.Equal(t, "4.25", row[4])
	assert.Equal(t, "true", row[6])
	assert.Equal(t, "SIZE|FIRE_RATING", row[7])
	assert.Equal(t, "2024-03-15 10:30:00", row[9])

	got, err := RecordFromRow(row)
	require.NoError(t, err)
	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, rec.Description, got.Description)
	assert.Equal(t, rec.Width, got.Width)
	assert.Equal(t, rec.Height, got.Height)
	assert.Equal(t, rec.EntityCount, got.EntityCount)
	assert.Equal(t, rec.AttributeNames, got.AttributeNames)
	assert.Equal(t, rec.Units, got.Units)
	assert.True(t, rec.LastModified.Equal(got.LastModified))
	assert.False(t, got.Partial)
}

func TestRecordRowKnownVector(t *testing.T) {
	rec := &BlockMetadataRecord{
		Name:           "Block1",
		Description:    "Simple shape",
		Layer:          "0",
		Width:          10.5,
		Height:         5.2,
		EntityCount:    3,
		HasAttributes:  true,
		AttributeNames: []string{"TAG1", "TAG2"},
		Units:          UnitsImperial,
		LastModified:   time.Date(2025, 2, 4, 14, 30, 22, 0, time.Local),
		Author:         "John",
		Category:       "Shapes",
	}

	want := []string{
		"Block1", "Simple shape", "0", "10.5", "5.2", "3", "true",
		"TAG1|TAG2", "Imperial", "2025-02-04 14:30:22", "John", "Shapes",
	}
	assert.Equal(t, want, rec.ToRow())
}

func TestRecordRowPartial(t *testing.T) {
	rec := &BlockMetadataRecord{
		Name:         "Broken",
		Width:        99, // ignored for partial records
		EntityCount:  3,
		LastModified: time.Now(),
		Partial:      true,
	}

	row := rec.ToRow()
	assert.Empty(t, row[3])
	assert.Empty(t, row[4])
	assert.Empty(t, row[5])

	got, err := RecordFromRow(row)
	require.NoError(t, err)
	assert.True(t, got.Partial)
	assert.Zero(t, got.Width)
	assert.Zero(t, got.EntityCount)
}

func TestRecordRowExtentRounding(t *testing.T) {
	rec := &BlockMetadataRecord{
		Name:         "Rounded",
		Width:        1.23456789,
		Height:       2.0,
		LastModified: time.Now(),
	}

	row := rec.ToRow()
	assert.Equal(t, "1.235", row[3])
	assert.Equal(t, "2", row[4])
}

func TestRecordRowEmptyAttributes(t *testing.T) {
	rec := &BlockMetadataRecord{Name: "Plain", LastModified: time.Now()}

	got, err := RecordFromRow(rec.ToRow())
	require.NoError(t, err)
	assert.Nil(t, got.AttributeNames)
	assert.False(t, got.HasAttributes)
}

func TestRecordFromRowErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(row []string)
	}{
		{"short row", func(row []string) {}},
		{"bad width", func(row []string) { row[3] = "wide" }},
		{"bad count", func(row []string) { row[5] = "several" }},
		{"bad bool", func(row []string) { row[6] = "maybe" }},
		{"bad timestamp", func(row []string) { row[9] = "yesterday" }},
	}

	base := &BlockMetadataRecord{Name: "X", LastModified: time.Now()}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := base.ToRow()
			if tt.name == "short row" {
				row = row[:5]
			} else {
				tt.mutate(row)
			}
			_, err := RecordFromRow(row)
			assert.Error(t, err)
		})
	}
}
