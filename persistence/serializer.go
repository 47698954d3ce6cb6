package persistence

import (
	"encoding/base64"
	"strings"

	"github.com/blang/semver"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

// encodedPrefix marks records that went through a codec and are base64 text.
const encodedPrefix = "b64:"

// Envelope is the on-disk record. Timestamp is in milliseconds since epoch.
type Envelope struct {
	Data      interface{} `json:"data"`
	Version   string      `json:"version"`
	Timestamp int64       `json:"timestamp"`
}

type Serializer struct {
	codec Codec
}

func NewSerializer(codec Codec) *Serializer {
	return &Serializer{codec: codec}
}

func (s *Serializer) Encode(envelope *Envelope) (string, error) {
	data, err := utils.Marshal(envelope)
	if err != nil {
		return "", types.Errorf(types.ErrPersistenceEncodeFailed, "%v", err)
	}

	if s.codec == nil {
		return string(data), nil
	}

	encoded, err := s.codec.Encode(data)
	if err != nil {
		return "", err
	}

	return encodedPrefix + base64.StdEncoding.EncodeToString(encoded), nil
}

// Decode reads plain JSON records as well as codec encoded ones, so enabling
// compression or encryption keeps older records readable.
func (s *Serializer) Decode(raw string) (*Envelope, error) {
	data := []byte(raw)

	if strings.HasPrefix(raw, encodedPrefix) {
		if s.codec == nil {
			return nil, types.Errorf(types.ErrPersistenceDecodeFailed, "record is encoded but no codec is configured")
		}

		decoded, err := base64.StdEncoding.DecodeString(raw[len(encodedPrefix):])
		if err != nil {
			return nil, types.Errorf(types.ErrPersistenceDecodeFailed, "base64: %v", err)
		}

		if data, err = s.codec.Decode(decoded); err != nil {
			return nil, err
		}
	}

	var envelope Envelope
	if err := utils.Unmarshal(data, &envelope); err != nil {
		return nil, types.Errorf(types.ErrPersistenceDecodeFailed, "%v", err)
	}

	if _, err := semver.Parse(envelope.Version); err != nil {
		return nil, types.Errorf(types.ErrPersistenceDecodeFailed, "record version %q: %v", envelope.Version, err)
	}

	return &envelope, nil
}
