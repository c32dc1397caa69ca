package fastpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/takeoff-worker/internal/config"
	"github.com/sells-group/takeoff-worker/internal/model"
)

func testExtractor() *Extractor {
	return New(config.FastPathConfig{MinDocScore: 80, MinConfidence: 0.85})
}

const signScheduleText = `SIGN SCHEDULE

SIGN TYPE   DESCRIPTION          QTY   UNIT
S1          EXIT SIGN            4     EA
S2          RESTROOM SIGN        12    EA
`

func TestDetectSourceType(t *testing.T) {
	assert.Equal(t, SourceSignSchedule, DetectSourceType(signScheduleText))
	assert.Equal(t, SourceSignSchedule, DetectSourceType("SIGNAGE SCHEDULE\n"))
	assert.Equal(t, SourceSignSchedule, DetectSourceType("SIGN TYPE SCHEDULE\n"))
	assert.Equal(t, SourceMessageSchedule, DetectSourceType("MESSAGE SCHEDULE\n"))
	assert.Equal(t, "", DetectSourceType("LEVEL 1 FLOOR PLAN\n"))
}

func TestTryFastPath_SignSchedule(t *testing.T) {
	e := testExtractor()

	result := e.TryFastPath(signScheduleText, SourceSignSchedule)
	require.NotNil(t, result)
	require.Len(t, result.Entries, 2)

	assert.Equal(t, "EXIT SIGN", result.Entries[0].Name)
	assert.Equal(t, 4.0, result.Entries[0].Quantity)
	assert.Equal(t, "S1", result.Entries[0].SignType)

	assert.Equal(t, "RESTROOM SIGN", result.Entries[1].Name)
	assert.Equal(t, 12.0, result.Entries[1].Quantity)
	assert.Equal(t, "S2", result.Entries[1].SignType)

	assert.GreaterOrEqual(t, result.Confidence, 0.85)
	assert.True(t, e.Accept(85, result))
}

func TestTryFastPath_PipedTableWithRoomColumn(t *testing.T) {
	e := testExtractor()
	text := `SIGN SCHEDULE
| SIGN TYPE | DESCRIPTION    | ROOM | QTY | UNIT |
| S1        | EXIT SIGN      | 101  | 4   | EA   |
| S3        | STAIR ID SIGN  | 120A | 2   | EA   |
`
	result := e.TryFastPath(text, SourceSignSchedule)
	require.NotNil(t, result)
	require.Len(t, result.Entries, 2)

	assert.Equal(t, "EXIT SIGN", result.Entries[0].Name)
	assert.Equal(t, 4.0, result.Entries[0].Quantity)
	assert.Equal(t, "101", result.Entries[0].RoomNumber)

	assert.Equal(t, "STAIR ID SIGN", result.Entries[1].Name)
	assert.Equal(t, 2.0, result.Entries[1].Quantity)
	assert.Equal(t, "120A", result.Entries[1].RoomNumber)
}

func TestTryFastPath_SingleSpacedColumns(t *testing.T) {
	e := testExtractor()
	text := "SIGN SCHEDULE\nEXIT SIGN 4\nRESTROOM SIGN 12\n"

	result := e.TryFastPath(text, SourceSignSchedule)
	require.NotNil(t, result)
	require.Len(t, result.Entries, 2)
	assert.Equal(t, "EXIT SIGN", result.Entries[0].Name)
	assert.Equal(t, 4.0, result.Entries[0].Quantity)
	assert.Equal(t, "RESTROOM SIGN", result.Entries[1].Name)
	assert.Equal(t, 12.0, result.Entries[1].Quantity)
}

func TestTryFastPath_UnknownSourceType(t *testing.T) {
	e := testExtractor()
	assert.Nil(t, e.TryFastPath(signScheduleText, ""))
	assert.Nil(t, e.TryFastPath(signScheduleText, "napkin_sketch"))
}

func TestTryFastPath_NoRows(t *testing.T) {
	e := testExtractor()
	assert.Nil(t, e.TryFastPath("SIGN SCHEDULE\n\nSEE SHEET A-601 FOR DETAILS\n", SourceSignSchedule))
}

func TestTryFastPath_MessyTableLowersConfidence(t *testing.T) {
	e := testExtractor()
	// Most candidate rows resist parsing; the gate must reject.
	text := `SIGN SCHEDULE
S1          EXIT SIGN            4     EA
DETAIL 1/A-601
SECTION 2/A-602
ELEVATION 3/A-603
`
	result := e.TryFastPath(text, SourceSignSchedule)
	require.NotNil(t, result)
	assert.Less(t, result.Confidence, 0.85)
	assert.False(t, e.Accept(100, result))
}

func TestAccept_Gate(t *testing.T) {
	e := testExtractor()
	result := &model.ExtractionResult{Confidence: 0.9}

	assert.True(t, e.Accept(80, result))
	assert.False(t, e.Accept(79.9, result))

	result.Confidence = 0.84
	assert.False(t, e.Accept(100, result))

	assert.False(t, e.Accept(100, nil))
}

func TestExtractPages(t *testing.T) {
	e := testExtractor()
	pages := []model.PageText{
		{PageNumber: 1, Text: "COVER SHEET\nSEE A-601 SIGN SCHEDULE"},
		{PageNumber: 3, Text: "SIGN SCHEDULE\nS1   EXIT SIGN       4   EA\nS2   RESTROOM SIGN   12  EA\nREF A-601"},
		{PageNumber: 4, Text: "S1   EXIT SIGN       4   EA"},
	}

	result := e.ExtractPages(pages)
	require.NotNil(t, result)
	require.Len(t, result.Entries, 2)

	exit := result.Entries[0]
	assert.Equal(t, "EXIT SIGN", exit.Name)
	assert.Equal(t, []int{3, 4}, exit.PageNumbers)
	assert.Contains(t, exit.SheetRefs, "A-601")

	assert.Equal(t, "RESTROOM SIGN", result.Entries[1].Name)
	assert.Equal(t, []int{3}, result.Entries[1].PageNumbers)
}
