package network

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hexworld/server/internal/state"
)

// SceneChunkTiles is the starting number of tiles packed into one SceneLoad.
const SceneChunkTiles = 256

// chunkBudget leaves room for the envelope around a scene chunk.
const chunkBudget = MaxPayload - 512

// Marshal encodes v with the payload codec.
func Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Unmarshal decodes data produced by Marshal.
func Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// Compress lz4-frames data.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, errors.Wrap(err, "lz4 write")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "lz4 close")
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, errors.Wrap(err, "lz4 read")
	}
	return out, nil
}

// EncodeSceneChunks packs tiles into compressed chunks that each fit in a
// single frame.
func EncodeSceneChunks(tiles []state.TileEntry) ([][]byte, error) {
	for per := SceneChunkTiles; per > 0; per /= 2 {
		chunks, fits, err := packTiles(tiles, per)
		if err != nil {
			return nil, err
		}
		if fits {
			return chunks, nil
		}
	}
	return nil, errors.Wrap(ErrPayloadTooLarge, "single tile exceeds frame")
}

func packTiles(tiles []state.TileEntry, per int) ([][]byte, bool, error) {
	chunks := make([][]byte, 0, len(tiles)/per+1)
	for start := 0; start < len(tiles) || start == 0; start += per {
		end := min(start+per, len(tiles))
		raw, err := Marshal(tiles[start:end])
		if err != nil {
			return nil, false, errors.Wrap(err, "encode tiles")
		}
		packed, err := Compress(raw)
		if err != nil {
			return nil, false, err
		}
		if len(packed) > chunkBudget {
			return nil, false, nil
		}
		chunks = append(chunks, packed)
		if end == len(tiles) {
			break
		}
	}
	return chunks, true, nil
}

// DecodeSceneChunk unpacks one chunk produced by EncodeSceneChunks.
func DecodeSceneChunk(data []byte) ([]state.TileEntry, error) {
	raw, err := Decompress(data)
	if err != nil {
		return nil, err
	}
	var tiles []state.TileEntry
	if err := Unmarshal(raw, &tiles); err != nil {
		return nil, errors.Wrap(err, "decode tiles")
	}
	return tiles, nil
}
