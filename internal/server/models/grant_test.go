package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGrantUsable(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	active := Grant{Active: true, Expiry: now.Add(time.Minute)}
	assert.True(t, active.Usable(now))
	assert.False(t, active.Usable(now.Add(time.Minute)), "expiry is exclusive")

	revoked := Grant{Active: false, Expiry: now.Add(time.Hour)}
	assert.False(t, revoked.Usable(now))
}

func TestGrantKeyAndEmergency(t *testing.T) {
	g := Grant{Patient: "p", Grantee: "g", RecordID: WildcardRecordID}
	assert.Equal(t, GrantKey{Patient: "p", Grantee: "g", RecordID: "*"}, g.Key())
	assert.True(t, g.Emergency())
	assert.False(t, Grant{RecordID: "1"}.Emergency())
}
