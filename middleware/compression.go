package middleware

import (
	"bytes"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/Khoshtrip/backend/types"
	"github.com/Khoshtrip/backend/utils"
)

const (
	AlgorithmGzip       = "gzip"
	AlgorithmBrotli     = "br"
	DefaultLevel        = 4
	DefaultMinSize      = 1024
	MinCompressionRatio = 0.05
)

// CompressionMiddleware encodes response bodies on the way out. It sits
// outside the cache stage, so stored entries are always plain bodies.
type CompressionMiddleware struct {
	config            types.ConfigManager
	logger            types.Logger
	metrics           types.MetricsManager
	compressionConfig *CompressionConfig
	brotliWriterPool  sync.Pool
	bufferPool        sync.Pool
	weight            int
}

type CompressionConfig struct {
	Level        int      `json:"level"`
	MinSize      int      `json:"min_size"`
	AllowedTypes []string `json:"allowed_types"`
}

func NewCompressionMiddleware(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) *CompressionMiddleware {
	compressionConfig := &CompressionConfig{
		Level:   DefaultLevel,
		MinSize: DefaultMinSize,
		AllowedTypes: []string{
			"application/json",
			"text/*",
		},
	}

	item := config.GetConfig().Middlewares.Compression
	if params := paramsOf(item); params != nil {
		if err := utils.UnmarshalConfig(params, compressionConfig); err != nil {
			logger.Error("Failed to unmarshal compression middleware config", zap.Error(err))
		}
	}

	if compressionConfig.Level < 1 || compressionConfig.Level > 9 {
		logger.Warn("Invalid compression level, using default", zap.Int("level", compressionConfig.Level))
		compressionConfig.Level = DefaultLevel
	}

	cm := &CompressionMiddleware{
		config:            config,
		logger:            logger,
		metrics:           metrics,
		compressionConfig: compressionConfig,
		weight:            weightOf(item, 60),
	}

	cm.brotliWriterPool = sync.Pool{
		New: func() interface{} {
			return brotli.NewWriterLevel(nil, compressionConfig.Level)
		},
	}
	cm.bufferPool = sync.Pool{
		New: func() interface{} {
			return new(bytes.Buffer)
		},
	}

	return cm
}

func (c *CompressionMiddleware) Name() string { return "compression" }
func (c *CompressionMiddleware) Weight() int  { return c.weight }

func (c *CompressionMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	algorithm := negotiate(ctx.Request.Header.Peek(fasthttp.HeaderAcceptEncoding))

	next(ctx)

	if algorithm == "" || len(ctx.Response.Header.ContentEncoding()) > 0 {
		return
	}

	body := ctx.Response.Body()
	if len(body) < c.compressionConfig.MinSize || !c.shouldCompress(ctx.Response.Header.ContentType()) {
		return
	}

	var compressed []byte
	var err error

	switch algorithm {
	case AlgorithmBrotli:
		compressed, err = c.compressBrotli(body)
	case AlgorithmGzip:
		compressed = fasthttp.AppendGzipBytesLevel(nil, body, c.compressionConfig.Level)
	}

	if err != nil {
		c.logger.Warn("Compression failed", zap.String("algorithm", algorithm), zap.Error(err))
		return
	}

	if 1.0-float64(len(compressed))/float64(len(body)) < MinCompressionRatio {
		return
	}

	c.metrics.Counter("http_compressed_responses_total", map[string]string{
		"algorithm": algorithm,
	}).Inc()

	ctx.Response.SetBody(compressed)
	ctx.Response.Header.SetContentEncoding(algorithm)
	ctx.Response.Header.Add(fasthttp.HeaderVary, fasthttp.HeaderAcceptEncoding)
}

func (c *CompressionMiddleware) compressBrotli(body []byte) ([]byte, error) {
	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	writer := c.brotliWriterPool.Get().(*brotli.Writer)
	writer.Reset(buf)
	defer func() {
		writer.Reset(nil)
		c.brotliWriterPool.Put(writer)
	}()

	if _, err := writer.Write(body); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return append([]byte(nil), buf.Bytes()...), nil
}

func (c *CompressionMiddleware) shouldCompress(contentType []byte) bool {
	if len(contentType) == 0 {
		return false
	}

	ct := string(contentType)
	if semicolon := strings.Index(ct, ";"); semicolon != -1 {
		ct = ct[:semicolon]
	}
	ct = strings.TrimSpace(strings.ToLower(ct))

	for _, allowed := range c.compressionConfig.AllowedTypes {
		if allowed == ct {
			return true
		}
		if prefix, wildcard := strings.CutSuffix(allowed, "*"); wildcard && strings.HasPrefix(ct, prefix) {
			return true
		}
	}

	return false
}

// negotiate prefers brotli over gzip when the client accepts both.
func negotiate(acceptEncoding []byte) string {
	if len(acceptEncoding) == 0 {
		return ""
	}

	var gzip bool
	for _, part := range strings.Split(string(acceptEncoding), ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		switch strings.ToLower(name) {
		case AlgorithmBrotli:
			return AlgorithmBrotli
		case AlgorithmGzip:
			gzip = true
		}
	}

	if gzip {
		return AlgorithmGzip
	}
	return ""
}
