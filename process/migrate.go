package process

import (
	"github.com/inconshreveable/log15"

	"github.com/zhanglei/twemproxy-1/stats"
)

// migration records one completed connection move so a rejected
// generation build can put the connection back where it came from.
type migration struct {
	src *ProxyPool
	dst *ProxyPool
}

// migrateProxies carries live listening connections from the old
// generation's context (src) into the new one (dst) for every pool
// whose bind address is unchanged. The pool name is informational: a
// rename is logged and never blocks migration. Matching is an exact
// string comparison of bind addresses; pool counts are small and this
// only runs during reload, so the quadratic scan is fine.
//
// If two destination pools claim the same address, the first one
// processed receives the connection and the collision is logged; the
// source connection stays with the source pool and will be closed when
// the old generation is shut down, leaving that address briefly
// unserved across the reload boundary.
//
// Each completed move is returned so the caller can undo them if a
// later bind step rejects the whole generation.
func migrateProxies(dst, src *Context, l log15.Logger) []migration {
	var moves []migration
	for _, srcPool := range src.Pools {
		if srcPool.Conn == nil {
			continue
		}
		for _, dstPool := range dst.Pools {
			if dstPool.Addr != srcPool.Addr {
				continue
			}
			if dstPool.Name != srcPool.Name {
				l.Info("listening socket's name changed",
					"from", srcPool.Name, "to", dstPool.Name, "addr", srcPool.Addr)
			}
			if dstPool.Conn != nil {
				// two pools claim this address; this should not happen
				l.Error("proxy has already been initialized, skipping migration",
					"pool", dstPool.Name, "addr", dstPool.Addr)
				stats.MigrationCollisions.Inc()
				continue
			}
			if srcPool.Conn == nil {
				// an earlier destination pool with this same address
				// already took the connection
				l.Error("duplicate listening address in new configuration",
					"pool", dstPool.Name, "addr", dstPool.Addr)
				stats.MigrationCollisions.Inc()
				continue
			}
			l.Info("migrating listening socket", "pool", srcPool.Name, "addr", srcPool.Addr)
			dstPool.Conn = srcPool.Conn
			dstPool.Conn.owner = dstPool
			srcPool.Conn = nil // moved, so the source can't double-close it
			stats.ListenersMigrated.Inc()
			moves = append(moves, migration{src: srcPool, dst: dstPool})
		}
	}
	return moves
}

// rollbackMigrations returns moved connections to their source pools,
// most recent move first. Used when a generation build fails after some
// migrations already happened: the previous generation must stay fully
// functional, so it gets its listeners back.
func rollbackMigrations(moves []migration, l log15.Logger) {
	for i := len(moves) - 1; i >= 0; i-- {
		mv := moves[i]
		if mv.dst.Conn == nil {
			continue
		}
		l.Info("returning listening socket to previous generation",
			"pool", mv.src.Name, "addr", mv.src.Addr)
		mv.src.Conn = mv.dst.Conn
		mv.src.Conn.owner = mv.src
		mv.dst.Conn = nil
	}
}
