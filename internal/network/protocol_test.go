package network

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexworld/server/internal/hexgrid"
	"github.com/hexworld/server/internal/state"
)

func sampleEnvelopes() []Envelope {
	actor := state.ActorState{
		ID:        7,
		Typ:       "player",
		Height:    3,
		Heading:   hexgrid.Hex{Q: 1},
		Speed:     120,
		Vertical:  1.2,
		AirDz:     0.4,
		AirTime:   state.Float(0.25),
		LastClock: 12.5,
		Px:        hexgrid.Px{X: 10, Y: -4, Z: 2},
	}
	return []Envelope{
		{Client: ID(7), Event: ActorMove{Actor: actor, Dt: 1.0 / 120}, Seq: ID(42)},
		{Event: ActorLoad{Actor: actor}},
		{Client: ID(3), Event: ActorUnload{ID: 3}},
		{Event: ConnectionInit{}},
		{Client: ID(1), Event: ConnectionInit{ClientID: 1}},
		{Event: SceneLoad{Data: []byte{1, 2, 3}, Chunk: 1, Chunks: 2}},
		{Client: ID(9), Event: TileChange{Hex: hexgrid.Hex{Q: -2, R: 1, Z: 5}, Tile: state.TileState{Flags: state.FlagSolid, Sprite: state.Sprite{Typ: "terrain", Idx: 2}}}, Seq: ID(1)},
		{Event: TileDiscover{Hex: hexgrid.Hex{Q: 4, R: -4}}},
	}
}

func TestEnvelopeCodecPreservesOptionalFields(t *testing.T) {
	for _, env := range sampleEnvelopes() {
		t.Run(env.Event.Kind().String(), func(t *testing.T) {
			b, err := EncodeEnvelope(env)
			require.NoError(t, err)

			got, err := DecodeEnvelope(b)
			require.NoError(t, err)
			assert.Equal(t, env, got)
		})
	}
}

func TestEncodeEnvelopeWithoutEvent(t *testing.T) {
	_, err := EncodeEnvelope(Envelope{})
	assert.True(t, errors.Is(err, ErrInvalidMessage))
}

func TestDecodeUnknownKind(t *testing.T) {
	b, err := Marshal([]any{nil, uint8(0x7f), map[string]any{}, nil})
	require.NoError(t, err)

	_, err = DecodeEnvelope(b)
	assert.True(t, errors.Is(err, ErrUnknownEvent))
}

func writeBatch(t *testing.T, w io.Writer, envs ...Envelope) {
	t.Helper()
	for _, env := range envs {
		b, err := EncodeEnvelope(env)
		require.NoError(t, err)
		require.NoError(t, WriteFrame(w, b))
	}
	require.NoError(t, WriteSentinel(w))
}

func readBatch(t *testing.T, r io.Reader) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		payload, end, err := ReadFrame(r)
		require.NoError(t, err)
		if end {
			return out
		}
		env, err := DecodeEnvelope(payload)
		require.NoError(t, err)
		out = append(out, env)
	}
}

func TestFramingIndependentOfChunking(t *testing.T) {
	envs := sampleEnvelopes()

	var stream bytes.Buffer
	writeBatch(t, &stream, envs[:3]...)
	writeBatch(t, &stream)
	writeBatch(t, &stream, envs[3:]...)
	raw := stream.Bytes()

	readers := map[string]func() io.Reader{
		"whole":    func() io.Reader { return bytes.NewReader(raw) },
		"one byte": func() io.Reader { return iotest.OneByteReader(bytes.NewReader(raw)) },
		"half":     func() io.Reader { return iotest.HalfReader(bytes.NewReader(raw)) },
	}
	for name, mk := range readers {
		t.Run(name, func(t *testing.T) {
			r := mk()
			assert.Equal(t, envs[:3], readBatch(t, r))
			assert.Empty(t, readBatch(t, r))
			assert.Equal(t, envs[3:], readBatch(t, r))

			_, _, err := ReadFrame(r)
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestSentinelBytes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSentinel(&buf))
	assert.Equal(t, "OK", buf.String())

	_, end, err := ReadFrame(bytes.NewReader([]byte("OK")))
	require.NoError(t, err)
	assert.True(t, end)
}

func TestWriteFrameRejectsSentinelLength(t *testing.T) {
	err := WriteFrame(io.Discard, make([]byte, int(Sentinel)))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	assert.NoError(t, WriteFrame(io.Discard, make([]byte, MaxPayload)))
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))
	raw := buf.Bytes()[:4]

	_, _, err := ReadFrame(bytes.NewReader(raw))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestMalformedPayloadSkipsOneFrame(t *testing.T) {
	good := sampleEnvelopes()[0]
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte{0xc1, 0xff, 0x00}))
	writeBatch(t, &buf, good)

	r := bytes.NewReader(buf.Bytes())
	payload, end, err := ReadFrame(r)
	require.NoError(t, err)
	require.False(t, end)
	_, err = DecodeEnvelope(payload)
	require.Error(t, err)

	// the stream stays aligned on the next frame
	assert.Equal(t, []Envelope{good}, readBatch(t, r))
}
