package persistence

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"io"

	"github.com/andybalholm/brotli"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/saiset-co/sai-cache/types"
)

// Codec transforms serialized records on their way to and from storage.
type Codec interface {
	Name() string
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

type BrotliCodec struct {
	level int
}

func NewBrotliCodec(level int) *BrotliCodec {
	if level < brotli.BestSpeed || level > brotli.BestCompression {
		level = brotli.DefaultCompression
	}
	return &BrotliCodec{level: level}
}

func (c *BrotliCodec) Name() string { return "brotli" }

func (c *BrotliCodec) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer := brotli.NewWriterLevel(&buf, c.level)
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (c *BrotliCodec) Decode(data []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
}

// AEADCodec seals records with XChaCha20-Poly1305. The random nonce is
// prepended to the ciphertext.
type AEADCodec struct {
	aead cipher.AEAD
}

// NewAEADCodec accepts a 32 byte key encoded as hex or standard base64.
func NewAEADCodec(key string) (*AEADCodec, error) {
	raw, err := parseKey(key)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(raw)
	if err != nil {
		return nil, types.Errorf(types.ErrCodecKeyInvalid, "%v", err)
	}

	return &AEADCodec{aead: aead}, nil
}

func parseKey(key string) ([]byte, error) {
	if raw, err := hex.DecodeString(key); err == nil && len(raw) == chacha20poly1305.KeySize {
		return raw, nil
	}

	if raw, err := base64.StdEncoding.DecodeString(key); err == nil && len(raw) == chacha20poly1305.KeySize {
		return raw, nil
	}

	return nil, types.Errorf(types.ErrCodecKeyInvalid, "expected %d bytes as hex or base64", chacha20poly1305.KeySize)
}

func (c *AEADCodec) Name() string { return "xchacha20poly1305" }

func (c *AEADCodec) Encode(data []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(data)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return c.aead.Seal(nonce, nonce, data, nil), nil
}

func (c *AEADCodec) Decode(data []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize+c.aead.Overhead() {
		return nil, types.Errorf(types.ErrPersistenceDecodeFailed, "ciphertext too short")
	}

	return c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
}

// ChainCodec applies codecs in order on Encode and in reverse on Decode.
type ChainCodec []Codec

func (c ChainCodec) Name() string {
	name := ""
	for i, codec := range c {
		if i > 0 {
			name += "+"
		}
		name += codec.Name()
	}
	return name
}

func (c ChainCodec) Encode(data []byte) ([]byte, error) {
	var err error
	for _, codec := range c {
		if data, err = codec.Encode(data); err != nil {
			return nil, types.Errorf(types.ErrPersistenceEncodeFailed, "%s: %v", codec.Name(), err)
		}
	}
	return data, nil
}

func (c ChainCodec) Decode(data []byte) ([]byte, error) {
	var err error
	for i := len(c) - 1; i >= 0; i-- {
		if data, err = c[i].Decode(data); err != nil {
			return nil, types.Errorf(types.ErrPersistenceDecodeFailed, "%s: %v", c[i].Name(), err)
		}
	}
	return data, nil
}

// NewCodecFromConfig builds the compression then encryption chain described by
// the persistence config. It returns nil when neither is configured.
func NewCodecFromConfig(config *types.PersistenceConfig) (Codec, error) {
	var chain ChainCodec

	if config.Compression == "brotli" {
		chain = append(chain, NewBrotliCodec(config.CompressionLevel))
	}

	if config.EncryptionKey != "" {
		aead, err := NewAEADCodec(config.EncryptionKey)
		if err != nil {
			return nil, err
		}
		chain = append(chain, aead)
	}

	if len(chain) == 0 {
		return nil, nil
	}

	return chain, nil
}
