// vsockbridge relays byte streams between AF_VSOCK and AF_INET/TCP
// according to a YAML service list: for each configured service it
// listens on one endpoint and, per accepted connection, dials the other
// and bridges the two descriptors through a pool of edge-triggered I/O
// threads.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/momentics/vsockbridge/config"
	"github.com/momentics/vsockbridge/internal/daemon"
	"github.com/momentics/vsockbridge/ioengine"
	"github.com/momentics/vsockbridge/listener"
	"github.com/momentics/vsockbridge/logging"
	"github.com/momentics/vsockbridge/reactor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "vsockbridge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		threads    int
		logLevel   string
		foreground bool
		bufferSize int
		daemonize  bool
		pidFile    string
		logFile    string
	)

	flagSet := pflag.NewFlagSet("vsockbridge", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the service list YAML file (required)")
	flagSet.IntVarP(&threads, "threads", "t", 1, "number of I/O threads")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error, critical")
	flagSet.BoolVar(&foreground, "foreground", false, "use pretty console log formatting instead of JSON")
	flagSet.IntVar(&bufferSize, "buffer-size", 0, "per-socket buffer capacity in bytes (0 = default)")
	flagSet.BoolVarP(&daemonize, "daemon", "d", false, "detach into its own session, running in the background")
	flagSet.StringVar(&pidFile, "pidfile", "", "write the daemon's pid to this file (only meaningful with --daemon)")
	flagSet.StringVar(&logFile, "log-file", "", "redirect daemon output to this file instead of /dev/null (only meaningful with --daemon)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if configPath == "" {
		printHelp(flagSet)
		return fmt.Errorf("--config is required")
	}

	if daemonize {
		if err := daemon.Detach(pidFile, logFile); err != nil {
			return fmt.Errorf("daemonize: %w", err)
		}
		defer daemon.RemovePID(pidFile)
	}

	level, ok := logging.ParseLevel(logLevel)
	if !ok {
		return fmt.Errorf("unknown --log-level %q", logLevel)
	}
	log := logging.New(os.Stderr, foreground).SetMinLevel(level)

	services, err := config.LoadServices(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(services) == 0 {
		return fmt.Errorf("config %s defines no services", configPath)
	}

	pool, err := ioengine.NewPool(ioengine.Config{Threads: threads}, reactor.Factory{}, log)
	if err != nil {
		return fmt.Errorf("start io thread pool: %w", err)
	}
	defer pool.Stop()

	listeners := make([]*listener.Listener, 0, len(services))
	for _, svc := range services {
		listenEp, err := svc.ListenEndpoint.ToEndpoint()
		if err != nil {
			return fmt.Errorf("service %s: %w", svc.Name, err)
		}
		connectEp, err := svc.ConnectEndpoint.ToEndpoint()
		if err != nil {
			return fmt.Errorf("service %s: %w", svc.Name, err)
		}

		bufs := listener.SocketBuffers{
			AcceptRcvBuf: svc.AcceptRcvBuf,
			AcceptSndBuf: svc.AcceptSndBuf,
			PeerRcvBuf:   svc.PeerRcvBuf,
			PeerSndBuf:   svc.PeerSndBuf,
		}
		lis, err := listener.New(svc.Name, listenEp, connectEp, bufferSize, bufs, pool, log)
		if err != nil {
			return fmt.Errorf("service %s: %w", svc.Name, err)
		}
		log.Info().Str("service", svc.Name).Str("listen", listenEp.String()).Str("connect", connectEp.String()).Msg("service configured")
		listeners = append(listeners, lis)
	}

	errs := make(chan error, len(listeners))
	for _, lis := range listeners {
		go func(l *listener.Listener) { errs <- l.Run() }(lis)
	}

	return <-errs
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `vsockbridge — userspace L4 bridge between AF_VSOCK and AF_INET/TCP.

Reads a YAML service list and, for each service, listens on one endpoint
and bridges every accepted connection to a freshly-dialed connection on
the other endpoint.

Usage:
  vsockbridge --config services.yaml [flags]

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
