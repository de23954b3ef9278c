package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

var testAUD = []byte{0x09, 0xf0}

func TestAUSplitter_SplitsOnDelimiters(t *testing.T) {
	stream := annexB(testAUD, testSPS, testPPS, testIDR, testAUD, testNonIDR, testAUD, testNonIDR)

	var s auSplitter
	units := s.Feed(stream)
	require.Len(t, units, 2)

	last := s.Flush()
	require.NotNil(t, last)

	first, err := parseAccessUnit(units[0])
	require.NoError(t, err)
	assert.Equal(t, [][]byte{testSPS, testPPS, testIDR}, first)

	second, err := parseAccessUnit(units[1])
	require.NoError(t, err)
	assert.Equal(t, [][]byte{testNonIDR}, second)

	tail, err := parseAccessUnit(last)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{testNonIDR}, tail)

	assert.Nil(t, s.Flush())
}

func TestAUSplitter_ByteAtATime(t *testing.T) {
	stream := annexB(testAUD, testSPS, testPPS, testIDR, testAUD, testNonIDR, testAUD, testNonIDR)

	var s auSplitter
	var units [][]byte
	for i := range stream {
		units = append(units, s.Feed(stream[i:i+1])...)
	}
	if last := s.Flush(); last != nil {
		units = append(units, last)
	}
	require.Len(t, units, 3)

	for _, raw := range units {
		au, err := parseAccessUnit(raw)
		require.NoError(t, err)
		assert.NotEmpty(t, au)
	}
}

func TestAUSplitter_ThreeByteStartCodes(t *testing.T) {
	stream := []byte{0, 0, 1}
	stream = append(stream, testAUD...)
	stream = append(stream, 0, 0, 1)
	stream = append(stream, testIDR...)
	stream = append(stream, 0, 0, 1)
	stream = append(stream, testAUD...)
	stream = append(stream, 0, 0, 1)
	stream = append(stream, testNonIDR...)

	var s auSplitter
	units := s.Feed(stream)
	require.Len(t, units, 1)

	au, err := parseAccessUnit(units[0])
	require.NoError(t, err)
	assert.Equal(t, [][]byte{testIDR}, au)
}

func TestAUSplitter_DropsLeadingBytes(t *testing.T) {
	stream := append([]byte{0xde, 0xad}, annexB(testAUD, testIDR, testAUD, testNonIDR)...)

	var s auSplitter
	units := s.Feed(stream)
	require.Len(t, units, 1)
	au, err := parseAccessUnit(units[0])
	require.NoError(t, err)
	assert.Equal(t, [][]byte{testIDR}, au)
}

func TestParameterSets(t *testing.T) {
	sps, pps := parameterSets([][]byte{testSPS, testPPS, testIDR})
	assert.Equal(t, testSPS, sps)
	assert.Equal(t, testPPS, pps)

	sps, pps = parameterSets([][]byte{testNonIDR})
	assert.Nil(t, sps)
	assert.Nil(t, pps)
}

func TestNanosToTicks(t *testing.T) {
	assert.Equal(t, int64(0), NanosToTicks(0))
	assert.Equal(t, int64(90000), NanosToTicks(1_000_000_000))
	assert.Equal(t, int64(3000), NanosToTicks(1_000_000_000/30))
	assert.Equal(t, int64(45000), NanosToTicks(500_000_000))

	// Large clocks must not overflow.
	day := int64(24 * 3600 * 1_000_000_000)
	assert.Equal(t, int64(24*3600*90000), NanosToTicks(day*1))
	big := int64(1) << 62
	assert.Positive(t, NanosToTicks(big))

	prev := int64(-1)
	for ns := int64(0); ns < 2_000_000_000; ns += 7_777_777 {
		ticks := NanosToTicks(ns)
		assert.GreaterOrEqual(t, ticks, prev)
		prev = ticks
	}
}

func TestTicksToNanos(t *testing.T) {
	assert.Equal(t, int64(1_000_000_000), TicksToNanos(90000))
	assert.Equal(t, int64(500_000_000), TicksToNanos(45000))
}
