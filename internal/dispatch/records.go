// Package dispatch drives the two queue workers: the inbound dispatcher runs
// router turns in conversation order, the outbound dispatcher executes the
// resulting actions at most once.
package dispatch

import (
	"sort"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// outboundKeyNamespace scopes the name-based UUIDs derived for actions the
// router did not key itself.
var outboundKeyNamespace = uuid.MustParse("5f1c9a44-2b7e-4d0f-8e36-9a1b7c4d2e58")

// Record is one queue message as seen by a dispatcher.
type Record struct {
	MessageID string
	Body      string
	// GroupID and Sequence are set for FIFO queues only.
	GroupID  string
	Sequence string
}

// OutboundKey derives the idempotency key of the action at position within
// the actions of the turn triggered by eventID. The same turn replayed yields
// the same keys.
func OutboundKey(eventID string, position int) string {
	return uuid.NewSHA1(outboundKeyNamespace, []byte(eventID+"#"+strconv.Itoa(position))).String()
}

// sortRecords orders records by group and then by sequence number. Records
// without a group keep their relative order.
func sortRecords(records []Record) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.GroupID != b.GroupID {
			return a.GroupID < b.GroupID
		}
		return lessSequence(a.Sequence, b.Sequence)
	})
	return out
}

// lessSequence compares SQS sequence numbers, which are decimal strings too
// large for uint64.
func lessSequence(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
