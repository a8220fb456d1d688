package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Khoshtrip/backend/types"
)

func TestAccessLogRingTail(t *testing.T) {
	al, err := NewAccessLog(&types.AccessLogConfig{Buffer: 3})
	require.NoError(t, err)

	for _, view := range []string{"a", "b", "c", "d"} {
		al.Record(view, view == "c", 1500*time.Microsecond, "view_cache:"+view+":x", types.RequestDescriptor{Method: "GET"})
	}

	records, err := al.Tail(10)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "b", records[0]["view"])
	assert.Equal(t, "d", records[2]["view"])
	assert.Equal(t, true, records[1]["cache_hit"])
	assert.Equal(t, "0.001500s", records[1]["response_time"])
	assert.Nil(t, records[0]["user_id"])
	assert.Nil(t, records[0]["query_params"])
	assert.NotEmpty(t, records[0]["timestamp"])

	records, err = al.Tail(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "d", records[0]["view"])
}

func TestAccessLogFileTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "cache_monitoring.log")

	al, err := NewAccessLog(&types.AccessLogConfig{File: path})
	require.NoError(t, err)

	al.Record("product_list", false, time.Millisecond, "view_cache:product_list:abc", types.RequestDescriptor{
		Method: "GET",
		UserID: "7",
		Query:  map[string][]string{"category": {"flight"}},
	})
	require.NoError(t, al.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, err := al.Tail(100)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "product_list", records[0]["view"])
	assert.Equal(t, "7", records[0]["user_id"])
	assert.Equal(t, map[string]interface{}{"category": "flight"}, records[0]["query_params"])
	assert.Equal(t, "not json", records[1]["raw"])
}

func TestAccessLogFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.log")

	al, err := NewAccessLog(&types.AccessLogConfig{File: path})
	require.NoError(t, err)
	require.NoError(t, al.Close())
	require.NoError(t, os.Remove(path))

	_, err = al.Tail(10)
	assert.ErrorIs(t, err, types.ErrAccessLogNotFound)
}

func TestAccessLogFileTailWithHugeCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache_monitoring.log")

	al, err := NewAccessLog(&types.AccessLogConfig{File: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = al.Close() })

	for _, view := range []string{"product_list", "package_list"} {
		al.Record(view, true, time.Millisecond, "view_cache:"+view+":k", types.RequestDescriptor{Method: "GET"})
	}

	records, err := al.Tail(1 << 60)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "package_list", records[1]["view"])
}
