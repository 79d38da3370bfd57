// chatpulse-extract serves raw extraction and analytics over Apple Messages
// chat.db files. The store is always opened read-only; this process never
// writes to a chat.db.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatpulse/extract/auth"
	"github.com/chatpulse/extract/web"
)

var (
	flagAddr     = flag.String("addr", "127.0.0.1:8200", "server address, ip:port")
	flagPidFile  = flag.String("pid-file", "chatpulse-extract.pid", "pid file")
	flagTimezone = flag.String("timezone", "Local", "IANA timezone for hour-of-day bucketing, e.g. Australia/Sydney")

	flagAuthToken      = flag.String("auth-token", "", "require this bearer token on every request; empty disables auth")
	flagDisableMetrics = flag.Bool("disable-metrics", false, "disable prometheus metrics")
	flagPprofDir       = flag.String("pprof-dir", "pprof", "dir to save pprof data files")
)

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	if v := validateFlags(); v > 0 {
		return v
	}

	loc, err := loadTimezone(*flagTimezone)
	if err != nil {
		return errorf("--timezone: %v", err)
	}

	pid := os.Getpid()

	if err := savePid(*flagPidFile, pid); err != nil {
		return errorf("pid file: %v", err)
	}
	defer func() {
		_ = os.Remove(*flagPidFile)
	}()

	pprofDir := filepath.Join(*flagPprofDir, strconv.Itoa(pid))
	if err := os.MkdirAll(pprofDir, 0750); err != nil {
		return errorf("--pprof-dir: error create dir `%s`: %v", pprofDir, err)
	}
	defer func() {
		_ = os.RemoveAll(pprofDir)
	}()

	var authClient auth.Client = auth.AllowAll{}
	if *flagAuthToken != "" {
		authClient = &auth.TokenClient{Token: *flagAuthToken}
	}

	mux := http.NewServeMux()
	if !*flagDisableMetrics {
		mux.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
	}
	web.NewAPI(authClient, loc).Register(mux)

	server := &http.Server{
		Addr:              *flagAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- server.ListenAndServe()
	}()

	glog.Infof("chatpulse-extract serving on %s, timezone %s", *flagAddr, loc)
	glog.Infof("`kill -USR1 %d` to dump goroutines; `kill -USR2 %d` to start/stop profiler; `CTRL+c` or `kill %d` to graceful stop", pid, pid, pid)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)

	var prof *Profiler

	for {
		select {
		case err := <-serveErrCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errorf("serve error: %v", err)
			}
			glog.Info("chatpulse-extract exited")
			return 0
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				if prof != nil {
					prof.dumpGoroutines()
				}
			case syscall.SIGUSR2:
				if prof == nil {
					prof = StartProfiler(pprofDir)
				} else {
					prof.Stop()
					prof = nil
				}
			case syscall.SIGTERM, syscall.SIGINT:
				glog.Infof("received signal `%s`, stopping", sig)
				if prof != nil {
					prof.Stop()
					prof = nil
				}
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				err := server.Shutdown(ctx)
				cancel()
				if err != nil {
					return errorf("shutdown error: %v", err)
				}
				<-serveErrCh
				glog.Info("chatpulse-extract exited")
				return 0
			}
		}
	}
}

func validateFlags() int {
	if *flagAddr == "" {
		return errorf("--addr is required")
	}
	if err := validateAddr(*flagAddr); err != nil {
		return errorf("--addr: %v", err)
	}
	if *flagPidFile == "" {
		return errorf("--pid-file is required")
	}
	if *flagPprofDir == "" {
		return errorf("--pprof-dir is required")
	}
	if *flagTimezone == "" {
		return errorf("--timezone is required")
	}
	return 0
}

func loadTimezone(name string) (*time.Location, error) {
	if name == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

func validateAddr(s string) error {
	ips, _, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("error split host port from `%s`: %v", s, err)
	}
	ip := net.ParseIP(ips)
	if ip == nil {
		return fmt.Errorf("error parse IP from host `%s`", ips)
	}
	if !ip.IsLoopback() && !ip.IsPrivate() {
		return fmt.Errorf("`%s` is not loopback or private address", ips)
	}
	return nil
}

func errorf(format string, args ...interface{}) int {
	glog.Errorf(format, args...)
	return 1
}

func savePid(name string, pid int) error {
	if _, err := os.Stat(name); err == nil {
		content, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		if len(content) > 0 {
			oldPid, err := strconv.Atoi(string(content))
			if err != nil {
				return err
			}

			proc, err := os.FindProcess(oldPid)
			if err != nil {
				return err
			}
			defer proc.Release()

			if err := proc.Signal(syscall.Signal(0)); err == nil {
				return fmt.Errorf("pid file: exists with pid: %d, the process is running", oldPid)
			}
			glog.Infof("pid file exists with pid: %d, but is not running", oldPid)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("pid file: stat error: %v", err)
	}

	if err := os.WriteFile(name, []byte(strconv.Itoa(pid)), 0600); err != nil {
		return fmt.Errorf("pid file: write error: %v", err)
	}
	glog.Infof("pid file: write pid done")
	return nil
}
