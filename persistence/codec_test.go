package persistence

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/types"
)

var testKey = bytes.Repeat([]byte{7}, 32)

func TestBrotliCodec(t *testing.T) {
	codec := NewBrotliCodec(5)
	input := []byte(strings.Repeat("translation ", 500))

	encoded, err := codec.Encode(input)
	require.NoError(t, err)
	assert.Less(t, len(encoded), len(input))

	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, input, decoded)

	assert.Equal(t, 6, NewBrotliCodec(42).level)
}

func TestAEADCodec(t *testing.T) {
	codec, err := NewAEADCodec(hex.EncodeToString(testKey))
	require.NoError(t, err)

	sealed, err := codec.Encode([]byte("secret"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "secret")

	again, err := codec.Encode([]byte("secret"))
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again)

	opened, err := codec.Decode(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), opened)

	sealed[len(sealed)-1] ^= 0xff
	_, err = codec.Decode(sealed)
	assert.Error(t, err)

	_, err = codec.Decode([]byte("short"))
	assert.ErrorIs(t, err, types.ErrPersistenceDecodeFailed)
}

func TestAEADCodecKeys(t *testing.T) {
	_, err := NewAEADCodec(base64.StdEncoding.EncodeToString(testKey))
	assert.NoError(t, err)

	_, err = NewAEADCodec("too-short")
	assert.ErrorIs(t, err, types.ErrCodecKeyInvalid)

	_, err = NewAEADCodec(hex.EncodeToString(testKey[:16]))
	assert.ErrorIs(t, err, types.ErrCodecKeyInvalid)
}

func TestChainCodecFromConfig(t *testing.T) {
	codec, err := NewCodecFromConfig(&types.PersistenceConfig{})
	require.NoError(t, err)
	assert.Nil(t, codec)

	codec, err = NewCodecFromConfig(&types.PersistenceConfig{
		Compression:      "brotli",
		CompressionLevel: 9,
		EncryptionKey:    hex.EncodeToString(testKey),
	})
	require.NoError(t, err)
	assert.Equal(t, "brotli+xchacha20poly1305", codec.Name())

	input := []byte(strings.Repeat("ocr ", 1000))
	encoded, err := codec.Encode(input)
	require.NoError(t, err)

	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, input, decoded)

	_, err = NewCodecFromConfig(&types.PersistenceConfig{EncryptionKey: "nope"})
	assert.ErrorIs(t, err, types.ErrCodecKeyInvalid)
}

func TestSerializer(t *testing.T) {
	plain := NewSerializer(nil)

	raw, err := plain.Encode(&Envelope{Data: map[string]interface{}{"a": 1}, Version: "1.0.0", Timestamp: 42})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"a":1},"version":"1.0.0","timestamp":42}`, raw)

	envelope, err := plain.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", envelope.Version)
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, envelope.Data)

	coded := NewSerializer(NewBrotliCodec(5))
	encoded, err := coded.Encode(&Envelope{Data: "x", Version: "1.0.0"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, encodedPrefix))

	envelope, err = coded.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "x", envelope.Data)

	envelope, err = coded.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(42), envelope.Timestamp)

	_, err = plain.Decode(encoded)
	assert.ErrorIs(t, err, types.ErrPersistenceDecodeFailed)

	for _, bad := range []string{"{not json", `{"data":1}`, `{"data":1,"version":"one"}`, "b64:%%%"} {
		_, err = coded.Decode(bad)
		assert.ErrorIs(t, err, types.ErrPersistenceDecodeFailed, bad)
	}
}
