// Command nutcracker runs the forking proxy: a master process that
// supervises a pool of worker processes and reloads its listener
// configuration without downtime.
//
// Reload is requested with SIGHUP, a worker respawn without a
// configuration change with SIGUSR1, and shutdown with SIGINT or
// SIGTERM. Worker processes are an implementation detail: the binary
// re-executes itself and dispatches on the spawn manifest in its
// environment.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/inconshreveable/log15"
	"github.com/spf13/cobra"

	"github.com/zhanglei/twemproxy-1/config"
	"github.com/zhanglei/twemproxy-1/core"
	"github.com/zhanglei/twemproxy-1/process"
	"github.com/zhanglei/twemproxy-1/stats"
)

var (
	flagConf        string
	flagRunDir      string
	flagSingle      bool
	flagWatchConfig bool
	flagVerbose     bool
)

func main() {
	root := &cobra.Command{
		Use:           "nutcracker",
		Short:         "multi-process proxy supervisor",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if process.InWorkerProcess() {
				runWorker()
				return nil // unreachable
			}
			return runMaster()
		},
	}
	root.Flags().StringVarP(&flagConf, "conf", "c", "conf/nutcracker.yml", "configuration file")
	root.Flags().StringVar(&flagRunDir, "run-dir", "/var/run/nutcracker", "run directory for the pid file")
	root.Flags().BoolVar(&flagSingle, "single", false, "run single-process, without workers")
	root.Flags().BoolVar(&flagWatchConfig, "watch-config", false, "request a reload when the configuration file changes")
	root.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(role string) log15.Logger {
	l := log15.New("role", role, "pid", os.Getpid())
	lvl := log15.LvlInfo
	if flagVerbose {
		lvl = log15.LvlDebug
	}
	l.SetHandler(log15.LvlFilterHandler(lvl, log15.StderrHandler))
	return l
}

func runWorker() {
	l := newLogger("worker")
	manifest, err := process.LoadWorkerManifest()
	if err != nil {
		l.Error("can't read spawn manifest", "err", err)
		os.Exit(1)
	}
	binder := core.NewBinder(l)
	worker, err := process.NewWorker(l, manifest,
		func() (process.EventLoop, error) { return core.NewLoop(l), nil },
		binder.InitListener,
	)
	if err != nil {
		l.Error("worker initialization failed", "err", err)
		os.Exit(1)
	}
	os.Exit(worker.Run())
}

func runMaster() error {
	l := newLogger("master")

	cfg, err := config.Load(flagConf)
	if err != nil {
		return err
	}

	pidFile, err := process.LockPidFile(l, flagRunDir)
	if err != nil {
		return err
	}
	defer pidFile.Release()

	watchSignals(l)
	if flagWatchConfig {
		if err := watchConfig(l, flagConf); err != nil {
			return err
		}
	}
	if cfg.StatsAddr != "" {
		go stats.Serve(l, cfg.StatsAddr)
	}

	binder := core.NewBinder(l)
	newLoop := func() (process.EventLoop, error) { return core.NewLoop(l), nil }

	if flagSingle || cfg.WorkerProcesses == 0 {
		l.Info("running single-process")
		return process.RunSingle(l, cfg, newLoop, binder.InitListener)
	}

	master, err := process.NewMaster(cfg, binder.InitListener,
		process.WithLogger(l),
		process.WithConfigFunc(func() (*config.Config, error) { return config.Load(flagConf) }),
	)
	if err != nil {
		return err
	}
	return master.Run()
}

// watchSignals translates process signals into supervision requests.
// The handlers only flip flags; the master loop does the work.
func watchSignals(l log15.Logger) {
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range sigC {
			l.Info("received signal", "signal", sig)
			switch sig {
			case syscall.SIGHUP:
				process.RequestReload()
			case syscall.SIGUSR1:
				process.RequestRespawn()
			case syscall.SIGINT, syscall.SIGTERM:
				process.RequestQuit()
			}
		}
	}()
}

// watchConfig requests a reload whenever the configuration file is
// rewritten.
func watchConfig(l log15.Logger, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					l.Info("configuration file changed, requesting reload", "path", ev.Name)
					process.RequestReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.Error("config watcher error", "err", err)
			}
		}
	}()
	return nil
}
