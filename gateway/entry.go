package gateway

import (
	"net/textproto"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Khoshtrip/backend/types"
)

// Headers that describe one delivery rather than the content are not stored.
var transientHeaders = map[string]struct{}{
	"Connection":        {},
	"Content-Length":    {},
	"Date":              {},
	"Server":            {},
	"Set-Cookie":        {},
	"Transfer-Encoding": {},
	"X-Cache":           {},
	"X-Request-Id":      {},
}

func encodeEntry(resp *types.Response, now time.Time) ([]byte, error) {
	entry := types.CachedEntry{
		StatusCode:  resp.StatusCode,
		Body:        append([]byte(nil), resp.Body...),
		ContentType: resp.ContentType,
		StoredAt:    now.UTC(),
	}

	if len(resp.Headers) > 0 {
		entry.Headers = make(map[string]string, len(resp.Headers))
		for name, value := range resp.Headers {
			if _, skip := transientHeaders[textproto.CanonicalMIMEHeaderKey(name)]; skip {
				continue
			}
			entry.Headers[name] = value
		}
	}

	data, err := msgpack.Marshal(&entry)
	if err != nil {
		return nil, types.WrapError(types.ErrEntryEncodeFailed, err.Error())
	}

	return data, nil
}

func decodeEntry(data []byte) (*types.Response, error) {
	var entry types.CachedEntry
	if err := msgpack.Unmarshal(data, &entry); err != nil {
		return nil, types.WrapError(types.ErrEntryDecodeFailed, err.Error())
	}

	if entry.StatusCode == 0 {
		return nil, types.Errorf(types.ErrEntryDecodeFailed, "entry has no status code")
	}

	return &types.Response{
		StatusCode:  entry.StatusCode,
		Body:        entry.Body,
		ContentType: entry.ContentType,
		Headers:     entry.Headers,
	}, nil
}
