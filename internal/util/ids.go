package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a prefixed ULID, e.g. "cmp_01J...". ULIDs sort by creation time,
// which keeps campaign and delivery-record listings index friendly.
func NewID(prefix string) string {
	return prefix + "_" + ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
}

func NewCampaignID() string { return NewID("cmp") }

func NewRecordID() string { return NewID("dlv") }

func NowUTC() time.Time {
	return time.Now().UTC()
}
