package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatpulse/extract/chatdb"
)

const baseTS = 1718445600 // 2024-06-15 10:00:00 UTC

var testHandles = []chatdb.Handle{
	{RowID: 1, ID: "+61400111222", Service: "iMessage"},
	{RowID: 2, ID: "+61400333444", Service: "iMessage"},
	{RowID: 3, ID: "mate@example.com", Service: "iMessage"},
}

func msg(handleID int64, ts float64, fromMe bool, assocType int64) chatdb.Message {
	m := chatdb.Message{HandleID: handleID, DateUnix: ts, IsFromMe: fromMe}
	if assocType != 0 {
		m.AssociatedMessageType = &assocType
	}
	return m
}

func chatMsg(chatID int64, handleID int64, ts float64, fromMe bool) chatdb.ChatMessage {
	return chatdb.ChatMessage{ChatID: chatID, Message: msg(handleID, ts, fromMe, 0)}
}

// sampleMessages mirrors the fixture dataset: 8 ordinary messages and 2
// tapbacks across 3 handles.
func sampleMessages() []chatdb.Message {
	return []chatdb.Message{
		msg(1, baseTS, false, 0),
		msg(1, baseTS+60, true, 0),
		msg(1, baseTS+120, false, 0),
		msg(1, baseTS+300, true, 0),
		msg(1, baseTS+310, true, 2001),
		msg(2, baseTS+3600, true, 0),
		msg(2, baseTS+3660, false, 0),
		msg(2, baseTS+3670, false, 2000),
		msg(3, baseTS+7200, false, 0),
		msg(3, baseTS+7500, true, 0),
	}
}

func TestCountsByContact(t *testing.T) {
	out := CountsByContact(sampleMessages(), testHandles)
	require.Len(t, out, 3)

	// Sorted by total descending; handle 1 leads with 4 ordinary messages.
	assert.Equal(t, int64(1), out[0].HandleID)
	assert.Equal(t, "+61400111222", out[0].Handle)
	assert.Equal(t, 4, out[0].Total)
	assert.Equal(t, 2, out[0].Sent)
	assert.Equal(t, 2, out[0].Received)

	// Reactions never inflate the totals.
	var total int
	for _, c := range out {
		total += c.Total
	}
	assert.Equal(t, 8, total)
}

func TestCountsByContactSkipsUnknownHandles(t *testing.T) {
	msgs := append(sampleMessages(), msg(99, baseTS, false, 0))
	out := CountsByContact(msgs, testHandles)
	for _, c := range out {
		assert.NotEqual(t, int64(99), c.HandleID)
	}
}

func TestTimelineMonth(t *testing.T) {
	out, err := Timeline(sampleMessages(), IntervalMonth)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "2024-06", out[0].Period)
	assert.Equal(t, 8, out[0].Count)
}

func TestTimelineDay(t *testing.T) {
	msgs := append(sampleMessages(), msg(1, baseTS+86400, false, 0))
	out, err := Timeline(msgs, IntervalDay)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "2024-06-15", out[0].Period)
	assert.Equal(t, 8, out[0].Count)
	assert.Equal(t, "2024-06-16", out[1].Period)
	assert.Equal(t, 1, out[1].Count)
}

func TestTimelineISOWeek(t *testing.T) {
	// 2024-06-15 is a Saturday in ISO week 24.
	out, err := Timeline(sampleMessages(), IntervalWeek)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "2024-W24", out[0].Period)
}

func TestTimelineInvalidInterval(t *testing.T) {
	_, err := Timeline(sampleMessages(), Interval("century"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ParseInterval("hourly")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTopContacts(t *testing.T) {
	out, err := TopContacts(sampleMessages(), testHandles, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(1), out[0].HandleID)
	assert.Equal(t, 4, out[0].MessageCount)
	assert.GreaterOrEqual(t, out[0].MessageCount, out[1].MessageCount)
}

func TestTopContactsInvalidLimit(t *testing.T) {
	_, err := TopContacts(sampleMessages(), testHandles, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = TopContacts(sampleMessages(), testHandles, -5)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestResponseTimesPairing(t *testing.T) {
	rows := []chatdb.ChatMessage{
		chatMsg(1, 1, baseTS, false),     // incoming
		chatMsg(1, 1, baseTS+60, true),   // response after 60s
		chatMsg(1, 1, baseTS+120, false), // incoming
		chatMsg(1, 1, baseTS+300, true),  // response after 180s
	}
	out := ResponseTimes(rows, testHandles)
	require.Len(t, out, 1)
	assert.Equal(t, int64(1), out[0].HandleID)
	assert.InDelta(t, 120.0, out[0].AvgResponseSeconds, 1e-9)
}

func TestResponseTimesGapBoundaries(t *testing.T) {
	cases := []struct {
		name     string
		gap      float64
		included bool
	}{
		{"one second", 1, true},
		{"exactly 24h", 86400, true},
		{"over 24h", 86401, false},
		{"zero", 0, false},
		{"negative", -5, false},
	}
	for _, tc := range cases {
		rows := []chatdb.ChatMessage{
			chatMsg(1, 1, baseTS, false),
			chatMsg(1, 1, baseTS+tc.gap, true),
		}
		out := ResponseTimes(rows, testHandles)
		if tc.included {
			require.Len(t, out, 1, tc.name)
			assert.InDelta(t, tc.gap, out[0].AvgResponseSeconds, 1e-9, tc.name)
		} else {
			assert.Empty(t, out, tc.name)
		}
	}
}

func TestResponseTimesChatBoundaryResets(t *testing.T) {
	// Incoming at the end of chat 1 must not pair with the outgoing opener
	// of chat 2.
	rows := []chatdb.ChatMessage{
		chatMsg(1, 1, baseTS, false),
		chatMsg(2, 2, baseTS+30, true),
	}
	assert.Empty(t, ResponseTimes(rows, testHandles))
}

func TestResponseTimesSkipsReactions(t *testing.T) {
	reaction := chatdb.ChatMessage{ChatID: 1, Message: msg(1, baseTS+10, true, 2001)}
	rows := []chatdb.ChatMessage{
		chatMsg(1, 1, baseTS, false),
		reaction, // a tapback in between must not break the pairing
		chatMsg(1, 1, baseTS+60, true),
	}
	out := ResponseTimes(rows, testHandles)
	require.Len(t, out, 1)
	assert.InDelta(t, 60.0, out[0].AvgResponseSeconds, 1e-9)
}

func TestResponseTimesSortedFastestFirst(t *testing.T) {
	rows := []chatdb.ChatMessage{
		chatMsg(1, 1, baseTS, false),
		chatMsg(1, 1, baseTS+500, true),
		chatMsg(2, 2, baseTS, false),
		chatMsg(2, 2, baseTS+50, true),
	}
	out := ResponseTimes(rows, testHandles)
	require.Len(t, out, 2)
	assert.Equal(t, int64(2), out[0].HandleID)
	assert.Equal(t, int64(1), out[1].HandleID)
}

func TestBusiestHours(t *testing.T) {
	out := BusiestHours(sampleMessages(), time.UTC)

	var total int
	for _, b := range out {
		assert.GreaterOrEqual(t, b.Hour, 0)
		assert.LessOrEqual(t, b.Hour, 23)
		assert.Positive(t, b.Count)
		total += b.Count
	}
	assert.Equal(t, 8, total)

	// Base is 10:00 UTC; hours with no messages are omitted.
	require.Len(t, out, 3)
	assert.Equal(t, HourBucket{Hour: 10, Count: 4}, out[0])
	assert.Equal(t, HourBucket{Hour: 11, Count: 2}, out[1])
	assert.Equal(t, HourBucket{Hour: 12, Count: 2}, out[2])
}

func TestBusiestHoursTimezoneShifts(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	out := BusiestHours(sampleMessages(), loc)
	require.Len(t, out, 3)
	assert.Equal(t, 12, out[0].Hour)
	assert.Equal(t, 13, out[1].Hour)
	assert.Equal(t, 14, out[2].Hour)
}

func TestReactionSummary(t *testing.T) {
	msgs := []chatdb.Message{
		msg(1, baseTS, false, 2000),
		msg(1, baseTS+1, false, 2000),
		msg(2, baseTS+2, true, 2001),
		msg(2, baseTS+3, true, 3001), // undo tapback, excluded
		msg(2, baseTS+4, true, 2006), // outside the add-type range
		msg(3, baseTS+5, false, 0),   // ordinary message
	}
	out := ReactionSummary(msgs)
	require.Len(t, out, 2)

	assert.Equal(t, ReactionCount{ReactionType: 2000, Label: "Loved", Count: 2}, out[0])
	assert.Equal(t, ReactionCount{ReactionType: 2001, Label: "Liked", Count: 1}, out[1])
}

func TestReactionLabels(t *testing.T) {
	want := map[int64]string{
		2000: "Loved",
		2001: "Liked",
		2002: "Disliked",
		2003: "Laughed",
		2004: "Emphasised",
		2005: "Questioned",
	}
	var msgs []chatdb.Message
	for code := range want {
		msgs = append(msgs, msg(1, baseTS, false, code))
	}
	out := ReactionSummary(msgs)
	require.Len(t, out, 6)
	for _, r := range out {
		assert.Equal(t, want[r.ReactionType], r.Label)
	}
}
