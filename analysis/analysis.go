// Package analysis computes read-only aggregations over chat.db rows:
// per-contact volume, time histograms, top contacts, response latency and
// reaction tallies. The aggregation functions are pure; Engine binds them to
// a store.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/chatpulse/extract/chatdb"
)

// ErrInvalidArgument reports a caller bug: a bad bucket interval or a
// non-positive limit. Malformed data never produces this; it degrades to
// absent values instead.
var ErrInvalidArgument = errors.New("invalid argument")

// maxResponseGapSeconds caps the incoming->outgoing gap counted as a
// response. Longer gaps are conversation restarts.
const maxResponseGapSeconds = 86400

// Interval selects the timeline bucket granularity.
type Interval string

const (
	IntervalDay   Interval = "day"
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
)

// ParseInterval validates a caller-supplied interval selector.
func ParseInterval(s string) (Interval, error) {
	switch v := Interval(s); v {
	case IntervalDay, IntervalWeek, IntervalMonth:
		return v, nil
	}
	return "", fmt.Errorf("%w: interval %q, want day, week or month", ErrInvalidArgument, s)
}

// ContactCount is the per-contact message volume split by direction.
type ContactCount struct {
	HandleID int64  `json:"handle_id"`
	Handle   string `json:"handle"`
	Total    int    `json:"total"`
	Sent     int    `json:"sent"`
	Received int    `json:"received"`
}

// TimelineBucket is one time bucket of the message histogram.
type TimelineBucket struct {
	Period string `json:"period"`
	Count  int    `json:"count"`
}

// TopContact is a contact ranked by ordinary message count.
type TopContact struct {
	HandleID     int64  `json:"handle_id"`
	Handle       string `json:"handle"`
	MessageCount int    `json:"message_count"`
}

// ResponseTime is the mean incoming->outgoing gap for one contact.
type ResponseTime struct {
	HandleID           int64   `json:"handle_id"`
	Handle             string  `json:"handle"`
	AvgResponseSeconds float64 `json:"avg_response_seconds"`
}

// HourBucket is the message count for one hour of day. Hours with no
// messages are omitted from results; callers treat missing as zero.
type HourBucket struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// ReactionCount is the tally for one tapback type.
type ReactionCount struct {
	ReactionType int64  `json:"reaction_type"`
	Label        string `json:"label"`
	Count        int    `json:"count"`
}

// reactionLabels maps the add-type tapback codes to display labels.
var reactionLabels = map[int64]string{
	2000: "Loved",
	2001: "Liked",
	2002: "Disliked",
	2003: "Laughed",
	2004: "Emphasised",
	2005: "Questioned",
}

// CountsByContact tallies total/sent/received ordinary messages per handle,
// sorted by total descending. Reactions and messages whose handle is not in
// `handles` are skipped; handles with no messages are omitted.
func CountsByContact(msgs []chatdb.Message, handles []chatdb.Handle) []ContactCount {
	names := handleNames(handles)

	counts := make(map[int64]*ContactCount)
	for i := range msgs {
		m := &msgs[i]
		if m.IsReaction() {
			continue
		}
		name, ok := names[m.HandleID]
		if !ok {
			continue
		}
		c := counts[m.HandleID]
		if c == nil {
			c = &ContactCount{HandleID: m.HandleID, Handle: name}
			counts[m.HandleID] = c
		}
		c.Total++
		if m.IsFromMe {
			c.Sent++
		} else {
			c.Received++
		}
	}

	out := make([]ContactCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].HandleID < out[j].HandleID
	})
	return out
}

// Timeline buckets ordinary messages by UTC calendar day, ISO week or
// calendar month, sorted ascending by bucket key.
func Timeline(msgs []chatdb.Message, interval Interval) ([]TimelineBucket, error) {
	if _, err := ParseInterval(string(interval)); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for i := range msgs {
		m := &msgs[i]
		if m.IsReaction() {
			continue
		}
		counts[bucketKey(messageTime(m).UTC(), interval)]++
	}

	out := make([]TimelineBucket, 0, len(counts))
	for period, count := range counts {
		out = append(out, TimelineBucket{Period: period, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

// TopContacts ranks handles by ordinary message count, descending, truncated
// to limit. A limit below 1 is a caller bug.
func TopContacts(msgs []chatdb.Message, handles []chatdb.Handle, limit int) ([]TopContact, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit %d, want >= 1", ErrInvalidArgument, limit)
	}

	names := handleNames(handles)
	counts := make(map[int64]int)
	for i := range msgs {
		m := &msgs[i]
		if m.IsReaction() {
			continue
		}
		if _, ok := names[m.HandleID]; !ok {
			continue
		}
		counts[m.HandleID]++
	}

	out := make([]TopContact, 0, len(counts))
	for id, count := range counts {
		out = append(out, TopContact{HandleID: id, Handle: names[id], MessageCount: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MessageCount != out[j].MessageCount {
			return out[i].MessageCount > out[j].MessageCount
		}
		return out[i].HandleID < out[j].HandleID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ResponseTimes estimates the mean response latency per contact. rows must
// be ordered by chat id then native timestamp ascending (the shape
// chatdb.ListMessagesByChat returns). For each adjacent incoming->outgoing
// pair within a chat, the gap counts toward the incoming sender's mean if
// 0 < gap <= 24h; anything else is a restart, not a response. Handles with
// no surviving pairs are omitted, never reported as zero. Sorted fastest
// responder first.
func ResponseTimes(rows []chatdb.ChatMessage, handles []chatdb.Handle) []ResponseTime {
	names := handleNames(handles)

	sums := make(map[int64]float64)
	counts := make(map[int64]int)

	var prevChat int64 = -1
	var havePrev, prevFromMe bool
	var prevTS float64
	var prevHandle int64

	for i := range rows {
		r := &rows[i]
		if r.IsReaction() {
			continue
		}
		if r.ChatID != prevChat {
			prevChat = r.ChatID
			havePrev = false
		}
		if havePrev && !prevFromMe && r.IsFromMe {
			gap := r.DateUnix - prevTS
			if gap > 0 && gap <= maxResponseGapSeconds {
				sums[prevHandle] += gap
				counts[prevHandle]++
			}
		}
		havePrev = true
		prevFromMe = r.IsFromMe
		prevTS = r.DateUnix
		prevHandle = r.HandleID
	}

	out := make([]ResponseTime, 0, len(counts))
	for id, n := range counts {
		name, ok := names[id]
		if !ok {
			continue
		}
		out = append(out, ResponseTime{
			HandleID:           id,
			Handle:             name,
			AvgResponseSeconds: sums[id] / float64(n),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgResponseSeconds != out[j].AvgResponseSeconds {
			return out[i].AvgResponseSeconds < out[j].AvgResponseSeconds
		}
		return out[i].HandleID < out[j].HandleID
	})
	return out
}

// BusiestHours buckets ordinary messages by hour of day in loc. The store
// records absolute instants; which wall-clock hour they land in is a choice,
// so the timezone is an explicit parameter rather than an ambient default.
func BusiestHours(msgs []chatdb.Message, loc *time.Location) []HourBucket {
	if loc == nil {
		loc = time.Local
	}

	counts := make(map[int]int)
	for i := range msgs {
		m := &msgs[i]
		if m.IsReaction() {
			continue
		}
		counts[messageTime(m).In(loc).Hour()]++
	}

	out := make([]HourBucket, 0, len(counts))
	for hour, count := range counts {
		out = append(out, HourBucket{Hour: hour, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour < out[j].Hour })
	return out
}

// ReactionSummary tallies add-type tapbacks (codes 2000-2005) by type,
// descending by count. Remove/undo tapbacks (3000-3005) are excluded.
func ReactionSummary(msgs []chatdb.Message) []ReactionCount {
	counts := make(map[int64]int)
	for i := range msgs {
		t := msgs[i].AssociatedMessageType
		if t == nil || *t < 2000 || *t > 2005 {
			continue
		}
		counts[*t]++
	}

	out := make([]ReactionCount, 0, len(counts))
	for code, count := range counts {
		label, ok := reactionLabels[code]
		if !ok {
			label = "Unknown"
		}
		out = append(out, ReactionCount{ReactionType: code, Label: label, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ReactionType < out[j].ReactionType
	})
	return out
}

func handleNames(handles []chatdb.Handle) map[int64]string {
	names := make(map[int64]string, len(handles))
	for i := range handles {
		names[handles[i].RowID] = handles[i].ID
	}
	return names
}

func messageTime(m *chatdb.Message) time.Time {
	return time.Unix(int64(math.Floor(m.DateUnix)), 0)
}

func bucketKey(t time.Time, interval Interval) string {
	switch interval {
	case IntervalWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case IntervalMonth:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}
