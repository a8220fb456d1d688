package utils

import (
	"bytes"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/Khoshtrip/backend/types"
)

type JSONBufferPool struct {
	pool sync.Pool
}

func (p *JSONBufferPool) Get() *bytes.Buffer {
	if buf := p.pool.Get(); buf != nil {
		return buf.(*bytes.Buffer)
	}
	return bytes.NewBuffer(make([]byte, 0, 1024))
}

func (p *JSONBufferPool) Put(buf *bytes.Buffer) {
	buf.Reset()
	if buf.Cap() < 64*1024 {
		p.pool.Put(buf)
	}
}

var jsonPool = &JSONBufferPool{}

func Marshal(data interface{}) ([]byte, error) {
	buf := jsonPool.Get()
	defer jsonPool.Put(buf)

	if err := sonic.ConfigStd.NewEncoder(buf).Encode(data); err != nil {
		return nil, err
	}

	result := bytes.TrimRight(buf.Bytes(), "\n")
	out := make([]byte, len(result))
	copy(out, result)
	return out, nil
}

func Unmarshal[T any](data []byte, target *T) error {
	return sonic.ConfigStd.Unmarshal(data, target)
}

// UnmarshalConfig converts loosely typed middleware params into a typed struct.
func UnmarshalConfig[T any](config interface{}, target *T) error {
	if config == nil {
		return types.Errorf(types.ErrConfigParseFailed, "params are nil")
	}

	if typed, ok := config.(*T); ok {
		*target = *typed
		return nil
	}

	configBytes, err := sonic.ConfigStd.Marshal(config)
	if err != nil {
		return types.WrapError(err, "failed to marshal params")
	}

	if err = sonic.ConfigStd.Unmarshal(configBytes, target); err != nil {
		return types.WrapError(err, "failed to unmarshal params")
	}

	return nil
}
