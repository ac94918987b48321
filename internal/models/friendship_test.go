package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPairKey(t *testing.T) {
	// 无论参数顺序如何，同一对用户必须得到同一个键。
	assert.Equal(t, PairKey(3, 7), PairKey(7, 3))
	assert.Equal(t, "3:7", PairKey(7, 3))
	assert.Equal(t, "3:7", PairKey(3, 7))
	assert.NotEqual(t, PairKey(1, 2), PairKey(1, 3))
}

func TestDerive(t *testing.T) {
	var nilRecord *FriendshipRecord
	assert.Equal(t, DerivedStatusNone, nilRecord.Derive())

	assert.Equal(t, DerivedStatusPending, (&FriendshipRecord{Status: FriendshipStatusPending}).Derive())
	assert.Equal(t, DerivedStatusFriends, (&FriendshipRecord{Status: FriendshipStatusAccepted}).Derive())
	// rejected 对外显示为 none
	assert.Equal(t, DerivedStatusNone, (&FriendshipRecord{Status: FriendshipStatusRejected}).Derive())
}

func TestOtherUserID(t *testing.T) {
	record := &FriendshipRecord{User1ID: 10, User2ID: 20}
	assert.Equal(t, uint(20), record.OtherUserID(10))
	assert.Equal(t, uint(10), record.OtherUserID(20))
}

func TestSentBySelf(t *testing.T) {
	update := &StatusUpdate{Status: DerivedStatusPending, RequestedBy: 5}
	assert.True(t, update.SentBySelf(5))
	assert.False(t, update.SentBySelf(6))

	// 没有 requestedBy 信息时永远不认为是自己发起的
	empty := &StatusUpdate{Status: DerivedStatusPending}
	assert.False(t, empty.SentBySelf(5))
}
