package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ChatFinished("public", "ok")
	m.ChatFinished("public", "ok")
	m.ChatFinished("host", "RATE_LIMIT")
	m.ChunkStreamed()
	m.FirstChunk(300 * time.Millisecond)
	done := m.StreamOpened()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeStreams))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeStreams))
	m.ClientDisconnected()
	m.Reindexed(time.Second, nil)
	m.Reindexed(time.Second, errors.New("x"))
	m.EmbeddingFallback()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.chatRequests.WithLabelValues("public", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chatRequests.WithLabelValues("host", "RATE_LIMIT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reindexTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.embedFallbacks))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["guidechat_chat_requests_total"])
	assert.True(t, names["guidechat_chat_time_to_first_chunk_seconds"])
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ChatFinished("public", "ok")
	m.ChunkStreamed()
	m.FirstChunk(time.Second)
	m.StreamOpened()()
	m.ClientDisconnected()
	m.Reindexed(time.Second, nil)
	m.EmbeddingFallback()
}
