package logger

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Khoshtrip/backend/types"
	"github.com/Khoshtrip/backend/utils"
)

const (
	accessTimeLayout    = "2006-01-02 15:04:05"
	defaultAccessBuffer = 1000
	maxAccessLineLength = 1024 * 1024
	tailWindowHint      = 256
)

// AccessLog writes one JSON line per cache decision, either to a file or to an
// in-memory ring when no file is configured.
type AccessLog struct {
	logger *zap.Logger
	file   *os.File
	path   string
	ring   *ringSink
}

func NewAccessLog(config *types.AccessLogConfig) (*AccessLog, error) {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:    "timestamp",
		EncodeTime: zapcore.TimeEncoderOfLayout(accessTimeLayout),
		LineEnding: zapcore.DefaultLineEnding,
	}
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	al := &AccessLog{}

	var sink zapcore.WriteSyncer
	if config != nil && config.File != "" {
		if err := ensureLogDir(config.File); err != nil {
			return nil, err
		}

		file, err := os.OpenFile(config.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, types.WrapError(err, "failed to open access log")
		}

		al.file = file
		al.path = config.File
		sink = zapcore.Lock(file)
	} else {
		size := defaultAccessBuffer
		if config != nil && config.Buffer > 0 {
			size = config.Buffer
		}
		al.ring = newRingSink(size)
		sink = al.ring
	}

	al.logger = zap.New(zapcore.NewCore(encoder, sink, zapcore.InfoLevel))

	return al, nil
}

func (al *AccessLog) Record(view string, hit bool, elapsed time.Duration, key string, req types.RequestDescriptor) {
	userID := zap.Any("user_id", nil)
	if req.Authenticated() {
		userID = zap.String("user_id", req.UserID)
	}

	queryParams := zap.Any("query_params", nil)
	if flat := req.FlatQuery(); len(flat) > 0 {
		queryParams = zap.Any("query_params", flat)
	}

	al.logger.Info("",
		zap.String("view", view),
		zap.Bool("cache_hit", hit),
		zap.String("response_time", fmt.Sprintf("%.6fs", elapsed.Seconds())),
		zap.String("cache_key", key),
		userID,
		queryParams,
	)
}

// Tail returns the newest lines, oldest first. Lines that are not JSON are
// returned as {"raw": line}.
func (al *AccessLog) Tail(lines int) ([]map[string]interface{}, error) {
	if lines <= 0 {
		return []map[string]interface{}{}, nil
	}

	var raw [][]byte
	if al.ring != nil {
		raw = al.ring.last(lines)
	} else {
		var err error
		if raw, err = tailFile(al.path, lines); err != nil {
			return nil, err
		}
	}

	records := make([]map[string]interface{}, 0, len(raw))
	for _, line := range raw {
		record := make(map[string]interface{})
		if err := utils.Unmarshal(line, &record); err != nil {
			record = map[string]interface{}{"raw": string(line)}
		}
		records = append(records, record)
	}

	return records, nil
}

func (al *AccessLog) Close() error {
	_ = al.logger.Sync()
	if al.file != nil {
		return al.file.Close()
	}
	return nil
}

func tailFile(path string, lines int) ([][]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.ErrAccessLogNotFound
		}
		return nil, types.WrapError(err, "failed to open access log")
	}
	defer file.Close()

	window := make([][]byte, 0, min(lines, tailWindowHint))
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxAccessLineLength)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if len(window) == lines {
			window = window[1:]
		}
		window = append(window, append([]byte(nil), line...))
	}

	if err = scanner.Err(); err != nil {
		return nil, types.WrapError(err, "failed to read access log")
	}

	return window, nil
}

type ringSink struct {
	mu    sync.Mutex
	lines [][]byte
	next  int
	full  bool
}

func newRingSink(size int) *ringSink {
	return &ringSink{lines: make([][]byte, size)}
}

func (r *ringSink) Write(p []byte) (int, error) {
	line := bytes.TrimSpace(p)

	r.mu.Lock()
	r.lines[r.next] = append([]byte(nil), line...)
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()

	return len(p), nil
}

func (r *ringSink) Sync() error {
	return nil
}

func (r *ringSink) last(n int) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := r.next
	if r.full {
		count = len(r.lines)
	}
	if n > count {
		n = count
	}

	out := make([][]byte, 0, n)
	start := (r.next - n + len(r.lines)) % len(r.lines)
	for i := 0; i < n; i++ {
		out = append(out, r.lines[(start+i)%len(r.lines)])
	}

	return out
}
