// Package process implements the multi-process supervision core: the
// master control loop, listener-generation building, cross-generation
// socket migration, worker spawning, the master→worker command channel,
// and the worker run loop.
//
// The master owns one configuration generation at a time. A reload
// builds a complete new generation of per-worker contexts and bound
// listeners before the old one is torn down; listening sockets whose
// bind address survives the configuration change are migrated into the
// new generation instead of being closed and rebound, so a live address
// never stops accepting across a reload.
//
// Worker processes are created by re-executing the running binary with
// the generation's listener descriptors inherited through ExtraFiles
// and a manifest in the environment. Each child closes every sibling's
// descriptors before entering its run loop, so a worker process holds
// open only its own listeners.
package process
