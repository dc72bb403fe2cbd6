package process

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhanglei/twemproxy-1/config"
	"github.com/zhanglei/twemproxy-1/internal/proto"
)

func TestShutdownWorkers(t *testing.T) {
	cfg := testConfig(3, config.Pool{Name: "p1", Listen: "127.0.0.1:11211"})
	m := newTestMaster(t, cfg, nil)
	require.NoError(t, m.setupListeners(false))

	// keep the worker-side channel ends so the quit records are observable
	workerEnds := make([]*file, 0, 3)
	for _, w := range m.parent.Workers {
		ch, err := NewChannel()
		require.NoError(t, err)
		w.Chan = ch
		dup, err := dupFd(ch.WorkerFile().Fd(), "worker-end")
		require.NoError(t, err)
		workerEnds = append(workerEnds, dup)
	}

	workers := m.parent.Workers
	m.shutdownWorkers(&m.parent.Workers)

	require.Empty(t, m.parent.Workers, "collection must be emptied")
	for _, w := range workers {
		require.Nil(t, w.Chan)
		require.Nil(t, w.Ctx)
	}

	// exactly one quit record per channel, written before release
	for _, end := range workerEnds {
		cmd, err := proto.ReadCommand(end)
		require.NoError(t, err)
		require.Equal(t, proto.CmdQuit, cmd)
		_, err = proto.ReadCommand(end)
		require.Equal(t, io.EOF, err, "channel must be released after the quit record")
		end.Close()
	}
}

func TestShutdownWorkersWithoutChannels(t *testing.T) {
	// a generation that was never spawned has no channels; shutdown
	// must still destroy contexts and empty the collection
	cfg := testConfig(2, config.Pool{Name: "p1", Listen: "127.0.0.1:11211"})
	m := newTestMaster(t, cfg, nil)
	require.NoError(t, m.setupListeners(false))

	m.shutdownWorkers(&m.parent.Workers)
	require.Empty(t, m.parent.Workers)
}
