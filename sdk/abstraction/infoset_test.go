package abstraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHistory() History {
	return History{
		{Bet(100), CheckCall()},
		{CheckCall(), Bet(75), Bet(150), CheckCall()},
		{AllIn()},
	}
}

func TestInfosetKeyRoundTrip(t *testing.T) {
	keys := []InfosetKey{
		{Street: Preflop, Bucket: 0, History: NewHistory()},
		{Street: Preflop, Bucket: 168, History: History{{Fold(), Bet(250), CheckCall()}}},
		{Street: Flop, Bucket: 7, History: History{{CheckCall(), CheckCall()}, nil}},
		{Street: Turn, Bucket: 3, History: sampleHistory()},
		{Street: River, Bucket: 15, History: History{{Bet(100), CheckCall()}, {}, {CheckCall(), CheckCall()}, {Bet(33)}}},
	}
	for _, key := range keys {
		for _, version := range []int{KeyCompact, KeyLegacy} {
			encoded := key.Encode(version)
			parsed, gotVersion, err := ParseKey(encoded)
			require.NoError(t, err, encoded)
			assert.Equal(t, version, gotVersion, encoded)
			assert.Equal(t, key.Street, parsed.Street, encoded)
			assert.Equal(t, key.Bucket, parsed.Bucket, encoded)
			assert.True(t, key.History.Equal(parsed.History), "%s parsed to %v", encoded, parsed.History)
		}
	}
}

func TestInfosetKeyFormats(t *testing.T) {
	key := InfosetKey{Street: Turn, Bucket: 3, History: sampleHistory()}
	assert.Equal(t, "TURN:3:v2|B100X/XB75B150X/A", key.String())
	assert.Equal(t, "TURN:3:BET_100.CHECK_CALL.DEAL.CHECK_CALL.BET_75.BET_150.CHECK_CALL.DEAL.ALL_IN", key.Encode(KeyLegacy))

	compact, _, err := ParseKey(key.String())
	require.NoError(t, err)
	legacy, _, err := ParseKey(key.Encode(KeyLegacy))
	require.NoError(t, err)
	assert.True(t, compact.History.Equal(legacy.History))
}

func TestParseKeyRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"FLOP:3",
		"SHOWDOWN:1:v2|",
		"FLOP:x:v2|X/",
		"FLOP:-1:v2|X/",
		"FLOP:2:v2|X",             // one segment for a flop key
		"PREFLOP:2:v2|XQ",         // unknown token
		"PREFLOP:2:v2|B",          // bet without size
		"PREFLOP:2:CHECK_CALL.BOGUS",
		"PREFLOP:2:CHECK_CALL.DEAL", // two segments for a preflop key
	}
	for _, s := range bad {
		_, _, err := ParseKey(s)
		assert.ErrorIs(t, err, ErrMalformedKey, s)
	}
}

func TestHistoryAppendDoesNotAlias(t *testing.T) {
	base := NewHistory().Append(Bet(100))
	a := base.Append(CheckCall())
	b := base.Append(Fold())
	assert.Equal(t, []AbstractAction{Bet(100), CheckCall()}, a.Current())
	assert.Equal(t, []AbstractAction{Bet(100), Fold()}, b.Current())
	assert.Len(t, base.Current(), 1)

	next := a.NextStreet()
	assert.Equal(t, Flop, next.Street())
	assert.Empty(t, next.Current())
	assert.Equal(t, Preflop, a.Street())
}

func TestActionTextRoundTrip(t *testing.T) {
	for _, act := range []AbstractAction{Fold(), CheckCall(), Bet(33), Bet(250), AllIn()} {
		text, err := act.MarshalText()
		require.NoError(t, err)
		var decoded AbstractAction
		require.NoError(t, decoded.UnmarshalText(text))
		assert.Equal(t, act, decoded)

		var byName AbstractAction
		require.NoError(t, byName.UnmarshalText([]byte(act.Name())))
		assert.Equal(t, act, byName)
	}
}

func TestParseHistory(t *testing.T) {
	h, err := ParseHistory(sampleHistory().Compact())
	require.NoError(t, err)
	assert.True(t, h.Equal(sampleHistory()))

	h, err = ParseHistory("XX/")
	require.NoError(t, err)
	assert.Equal(t, Flop, h.Street())

	_, err = ParseHistory("XQ/")
	assert.ErrorIs(t, err, ErrMalformedKey)
}
