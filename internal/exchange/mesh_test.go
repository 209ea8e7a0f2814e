package exchange

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

// newTestMeshes spins up n in-process ranks: rank 0 hosts the embedded
// NATS server, ranks 1..n-1 join it as clients.
func newTestMeshes(t *testing.T, n int, secret string) []*Mesh {
	t.Helper()
	host, err := NewMesh(Config{
		ClusterName:   "test",
		Rank:          0,
		NRanks:        n,
		ClusterSecret: secret,
	}, testLogger())
	require.NoError(t, err)

	meshes := []*Mesh{host}
	for r := 1; r < n; r++ {
		m, err := NewMesh(Config{
			ClusterName:   "test",
			Rank:          r,
			NRanks:        n,
			ConnectURL:    host.ClientURL(),
			ClusterSecret: secret,
		}, testLogger())
		require.NoError(t, err)
		meshes = append(meshes, m)
	}

	t.Cleanup(func() {
		for _, m := range meshes {
			m.Close()
		}
	})
	return meshes
}

func TestSignAndVerifyRankTokenRoundTrip(t *testing.T) {
	tok, err := SignRankToken("s3cr3t", 4)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	rank, err := VerifyRankToken("s3cr3t", tok)
	require.NoError(t, err)
	assert.Equal(t, 4, rank)

	_, err = VerifyRankToken("wrong-secret", tok)
	assert.Error(t, err)
}

func TestVerifyRankTokenBypassedWhenNoSecretConfigured(t *testing.T) {
	tok, err := SignRankToken("", 7)
	require.NoError(t, err)
	assert.Empty(t, tok)

	rank, err := VerifyRankToken("", "anything")
	require.NoError(t, err)
	assert.Equal(t, 0, rank)
}

func TestForeachRunsAllBlocksBoundedByJobs(t *testing.T) {
	meshes := newTestMeshes(t, 1, "")
	m := meshes[0]
	m.Jobs = 2

	var mu sync.Mutex
	var seen []int64
	var concurrent, maxConcurrent int32

	blocks := []int64{1, 2, 3, 4, 5, 6}
	err := m.Foreach(context.Background(), blocks, func(ctx context.Context, gid int64) error {
		c := atomic.AddInt32(&concurrent, 1)
		for {
			old := atomic.LoadInt32(&maxConcurrent)
			if c <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, c) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)

		mu.Lock()
		seen = append(seen, gid)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, blocks, seen)
	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxConcurrent)), 2)
}

func TestExchangeRoundTripsEnvelopesBetweenRanks(t *testing.T) {
	n := 3
	meshes := newTestMeshes(t, n, "")

	var wg sync.WaitGroup
	results := make([]Envelope, n)
	errs := make([]error, n)

	for r := 0; r < n; r++ {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := meshes[r]
			dest := (r + 1) % n
			payload, _ := json.Marshal(map[string]int{"from": r})
			incoming, err := m.Exchange(0, map[int]json.RawMessage{dest: payload}, []int{(r - 1 + n) % n}, 5*time.Second)
			errs[r] = err
			if err == nil && len(incoming) == 1 {
				results[r] = incoming[0]
			}
		}()
	}
	wg.Wait()

	for r := 0; r < n; r++ {
		require.NoError(t, errs[r], "rank %d", r)
		wantFrom := (r - 1 + n) % n
		assert.Equal(t, wantFrom, results[r].From)

		var payload map[string]int
		require.NoError(t, json.Unmarshal(results[r].Payload, &payload))
		assert.Equal(t, wantFrom, payload["from"])
	}
}

func TestAllReduceSumAcrossRanks(t *testing.T) {
	n := 3
	meshes := newTestMeshes(t, n, "")

	var wg sync.WaitGroup
	sums := make([]float64, n)
	errs := make([]error, n)

	for r := 0; r < n; r++ {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			sums[r], errs[r] = meshes[r].AllReduceSum(0, float64(r+1), 5*time.Second)
		}()
	}
	wg.Wait()

	for r := 0; r < n; r++ {
		require.NoError(t, errs[r], "rank %d", r)
		assert.Equal(t, 6.0, sums[r])
	}
}
