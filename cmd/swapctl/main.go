// Command swapctl is the thin driver over the swap pager's syscall
// surface (spec.md §1): swapon against a file-backed device, plus a
// Prometheus /metrics endpoint, in the kingpin-flag-declaration style
// of talyz-systemd_exporter's systemd.go.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/ryogrid/go-swap-pager/device"
	"github.com/ryogrid/go-swap-pager/memvm"
	"github.com/ryogrid/go-swap-pager/metrics"
	"github.com/ryogrid/go-swap-pager/pager"
)

var (
	app = kingpin.New("swapctl", "Swap pager control and metrics driver.")

	listenAddr = app.Flag("web.listen-address", "Address to serve /metrics on.").Default(":9419").String()
	pageSize   = app.Flag("page-size", "Page size in bytes.").Default("4096").Int()

	swapOnCmd = app.Command("swapon", "Activate a swap device and serve /metrics until interrupted.")
	onPath    = swapOnCmd.Arg("path", "Path to the backing file.").Required().String()
	onBlocks  = swapOnCmd.Flag("blocks", "Device capacity, in page-sized blocks.").Required().Int64()
	onCreate  = swapOnCmd.Flag("create", "Create the backing file if it does not exist.").Bool()

	serveCmd = app.Command("serve", "Serve /metrics with no device activated.")
)

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg := pager.DefaultConfig()
	cfg.PageSize = *pageSize
	factory := memvm.NewFactory(cfg.PageSize)
	p := pager.New(cfg, factory, nil)

	switch cmd {
	case swapOnCmd.FullCommand():
		runSwapOn(p)
	case serveCmd.FullCommand():
		runServe(p)
	}
}

func runSwapOn(p *pager.SwapPager) {
	sizeBytes := *onBlocks * int64(p.Config().PageSize)
	backend, err := device.OpenFileBackend(*onPath, *onCreate, sizeBytes)
	if err != nil {
		fatal(errors.Wrap(err, "swapctl: swapon"))
	}

	idx, err := p.SwapOn(context.Background(), *onPath, backend, *onBlocks)
	if err != nil {
		fatal(errors.Wrap(err, "swapctl: swapon"))
	}
	fmt.Fprintf(os.Stderr, "swapctl: activated %s as device %d (%d blocks)\n", *onPath, idx, *onBlocks)
	runServe(p)
}

func runServe(p *pager.SwapPager) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(p))

	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	fmt.Fprintf(os.Stderr, "swapctl: serving metrics on %s/metrics\n", *listenAddr)
	if err := http.ListenAndServe(*listenAddr, nil); err != nil {
		fatal(errors.Wrap(err, "swapctl: metrics server"))
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
