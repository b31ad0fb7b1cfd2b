package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

const (
	ContentTypeJSON    = "application/json"
	ContentTypeMsgpack = "application/msgpack"
)

func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return EncodingJSON, nil
	case "msgpack":
		return EncodingMsgpack, nil
	default:
		return "", fmt.Errorf("unknown encoding %q", s)
	}
}

// EncodingForAccept picks msgpack only when the Accept header asks for it.
func EncodingForAccept(accept string) Encoding {
	for _, part := range strings.Split(accept, ",") {
		mt := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if strings.EqualFold(mt, ContentTypeMsgpack) || strings.EqualFold(mt, "application/x-msgpack") {
			return EncodingMsgpack
		}
	}
	return EncodingJSON
}

func (e Encoding) ContentType() string {
	if e == EncodingMsgpack {
		return ContentTypeMsgpack
	}
	return ContentTypeJSON
}

func EncodeState(m StateMsg, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingJSON, "":
		return json.Marshal(m)
	case EncodingMsgpack:
		return msgpack.Marshal(m)
	default:
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}
}

func DecodeState(b []byte, enc Encoding) (StateMsg, error) {
	var m StateMsg
	var err error
	switch enc {
	case EncodingJSON, "":
		err = json.Unmarshal(b, &m)
	case EncodingMsgpack:
		err = msgpack.Unmarshal(b, &m)
	default:
		err = fmt.Errorf("unknown encoding %q", enc)
	}
	return m, err
}
