package framing

import (
	"bytes"
	"io"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{0x01, 0xDE, 0xAD, 0xBE, 0xEF}

	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestZeroLengthFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, nil))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestReadFrameCleanEOFAtFrameBoundary(t *testing.T) {
	var buf bytes.Buffer
	_, err := ReadFrame(&buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestReadFrameShortReadMidPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte{1, 2, 3, 4, 5}))

	truncated := buf.Bytes()[:len(buf.Bytes())-2]
	_, err := ReadFrame(bytes.NewReader(truncated))
	require.Error(t, err)
	require.NotErrorIs(t, err, io.EOF)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	prefix[0] = 0xFF
	prefix[1] = 0xFF
	prefix[2] = 0xFF
	prefix[3] = 0xFF
	buf.Write(prefix[:])

	_, err := ReadFrame(&buf)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestLegacyFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{0xAA, 0xBB, 0xCC}

	require.NoError(t, WriteLegacyFrame(&buf, payload))

	got, err := ReadLegacyFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFramingRoundTripLargePayload(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 1<<20)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFramingRoundTripRandomPayloads(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(0, 4096)

	for i := 0; i < 25; i++ {
		var payload []byte
		f.Fuzz(&payload)

		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, payload))

		got, err := ReadFrame(&buf)
		require.NoError(t, err)
		require.Equal(t, payload, got)
	}
}
