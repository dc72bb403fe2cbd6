package process

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhanglei/twemproxy-1/config"
)

func buildBoundGeneration(t *testing.T, n int) []*Instance {
	t.Helper()
	cfg := testConfig(n,
		config.Pool{Name: "p1", Listen: "0.0.0.0:11211", Servers: []string{"127.0.0.1:6379:1"}},
		config.Pool{Name: "p2", Listen: "0.0.0.0:11212"},
	)
	m := newTestMaster(t, cfg, nil)
	require.NoError(t, m.setupListeners(false))
	return m.parent.Workers
}

func TestBuildWorkerEnvLayout(t *testing.T) {
	workers := buildBoundGeneration(t, 2)
	self := workers[1]
	ch, err := NewChannel()
	require.NoError(t, err)
	defer ch.Release()
	self.Chan = ch

	raw, extra, err := buildWorkerEnv(workers, self)
	require.NoError(t, err)
	// 2 workers × 2 pools, plus the channel end
	require.Len(t, extra, 5)

	t.Setenv(workerManifestEnv, raw)
	man, err := LoadWorkerManifest()
	require.NoError(t, err)

	require.Equal(t, 1, man.WorkerID)
	require.Len(t, man.Workers, 2)
	// descriptors are laid out sequentially from 3, channel last
	want := extraFdStart
	for _, mw := range man.Workers {
		require.Len(t, mw.Pools, 2)
		for _, mp := range mw.Pools {
			require.Equal(t, want, mp.Fd)
			want++
		}
	}
	require.Equal(t, want, man.ChannelFd)
	require.Equal(t, "p1", man.Workers[0].Pools[0].Name)
	require.Equal(t, "0.0.0.0:11212", man.Workers[0].Pools[1].Addr)
	require.Equal(t, []string{"127.0.0.1:6379:1"}, man.Workers[0].Pools[0].Servers)
}

func TestBuildWorkerEnvRejectsUnbound(t *testing.T) {
	workers := buildBoundGeneration(t, 1)
	self := workers[0]
	ch, err := NewChannel()
	require.NoError(t, err)
	defer ch.Release()
	self.Chan = ch

	self.Ctx.Pools[0].Conn.Close()
	self.Ctx.Pools[0].Conn = nil
	_, _, err = buildWorkerEnv(workers, self)
	require.Error(t, err)
}

func TestBuildWorkerEnvNeedsChannel(t *testing.T) {
	workers := buildBoundGeneration(t, 1)
	_, _, err := buildWorkerEnv(workers, workers[0])
	require.Error(t, err)
}

func TestLoadWorkerManifestMissing(t *testing.T) {
	t.Setenv(workerManifestEnv, "")
	require.False(t, InWorkerProcess())
	_, err := LoadWorkerManifest()
	require.Error(t, err)
}
