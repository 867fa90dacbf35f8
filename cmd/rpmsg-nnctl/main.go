// rpmsg-nnctl drives a session against the accelerator runtime end to
// end: handshake, buffer and network setup, one or more inferences, and
// a metrics dump on exit. With no -socket it runs against the in-process
// stub firmware, which makes it a convenient smoke test on any machine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	nnrt "github.com/behrlich/rpmsg-nnrt"
	"github.com/behrlich/rpmsg-nnrt/internal/constants"
	"github.com/behrlich/rpmsg-nnrt/internal/logging"
	"github.com/behrlich/rpmsg-nnrt/internal/transport"
	"github.com/behrlich/rpmsg-nnrt/internal/wire"
)

func main() {
	var (
		socketPath = flag.String("socket", "", "SOCK_SEQPACKET endpoint of the rpmsg bridge (empty: in-process stub firmware)")
		sizeStr    = flag.String("size", "64K", "Size of the IFM/OFM buffers (e.g. 64K, 1M)")
		carveStr   = flag.String("carveout", "64M", "Size of the session's DMA carveout")
		netIndex   = flag.Uint("index", 0, "Firmware-resident network index to run")
		count      = flag.Int("count", 1, "Number of inferences to dispatch")
		cycles     = flag.Bool("cycles", true, "Enable the PMU cycle counter")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	size, err := parseSize(*sizeStr)
	if err != nil {
		log.Fatalf("Invalid size '%s': %v", *sizeStr, err)
	}
	carveout, err := parseSize(*carveStr)
	if err != nil {
		log.Fatalf("Invalid carveout '%s': %v", *carveStr, err)
	}

	// Set up logging
	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	var tr nnrt.Transport
	if *socketPath != "" {
		seq, err := transport.DialSeqpacket(*socketPath, constants.TransmitSlots)
		if err != nil {
			logger.Error("failed to connect", "path", *socketPath, "error", err)
			os.Exit(1)
		}
		tr = seq
		logger.Info("connected to rpmsg bridge", "path", *socketPath)
	} else {
		mock := nnrt.NewMockTransport()
		nnrt.NewStubFirmware(mock)
		tr = mock
		logger.Info("using in-process stub firmware")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Abort in-flight waits on Ctrl+C. An aborted wait ends the process
	// through os.Exit, so the deferred Close does not run in that case.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	opts := nnrt.DefaultSessionOptions()
	opts.CarveoutSize = uint32(carveout)
	opts.Logger = logger

	session, err := nnrt.Open(ctx, tr, &opts)
	if err != nil {
		logger.Error("failed to open session", "error", err)
		os.Exit(1)
	}
	defer func() {
		session.Close()
		logger.Info("session closed")
	}()

	v := session.DriverVersion()
	caps := session.Capabilities()
	fmt.Printf("Session: %s (minor %d)\n", session.ID, session.Minor)
	fmt.Printf("Firmware protocol: %d.%d.%d\n", v.Major, v.Minor, v.Patch)
	fmt.Printf("Hardware: v%d.%d.%d, product major %d, %d MACs/cycle\n",
		caps.HWVersionMajor, caps.HWVersionMinor, caps.HWVersionPatch,
		caps.ProductMajor, caps.MACCountPerCycle)

	if err := session.Ping(ctx); err != nil {
		logger.Error("ping failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("Ping: ok")

	ifmFD, err := session.CreateBuffer(uint32(size))
	if err != nil {
		logger.Error("failed to create IFM buffer", "error", err)
		os.Exit(1)
	}
	ofmFD, err := session.CreateBuffer(uint32(size))
	if err != nil {
		logger.Error("failed to create OFM buffer", "error", err)
		os.Exit(1)
	}
	netFD, err := session.CreateNetworkFromIndex(uint32(*netIndex))
	if err != nil {
		logger.Error("failed to create network", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Buffers: 2 x %s, network index %d\n", formatSize(size), *netIndex)

	if info, err := session.NetworkInfo(ctx, netFD); err == nil {
		fmt.Printf("Network: %q, %d IFM(s), %d OFM(s)\n", cString(info.Desc[:]), info.IFMCount, info.OFMCount)
	} else {
		logger.Warn("network-info failed", "error", err)
	}

	pmu := nnrt.PMUConfig{CycleCounterEnable: *cycles}
	for i := 0; i < *count; i++ {
		infFD, err := session.CreateInference(ctx, netFD, []int32{ifmFD}, []int32{ofmFD}, pmu)
		if err != nil {
			logger.Error("failed to dispatch inference", "error", err)
			os.Exit(1)
		}

		inf, err := session.Inference(infFD)
		if err != nil {
			logger.Error("failed to resolve inference handle", "error", err)
			os.Exit(1)
		}
		if err := inf.Wait(ctx); err != nil {
			logger.Error("inference wait aborted", "error", err)
			os.Exit(1)
		}

		st := inf.Status()
		fmt.Printf("Inference %d: %s", i+1, statusName(st.Status))
		if st.CycleCounterEnable {
			fmt.Printf(" (%d cycles)", st.CycleCounterCount)
		}
		fmt.Println()

		if err := session.CloseHandle(infFD); err != nil {
			logger.Warn("failed to close inference handle", "error", err)
		}
	}

	snap := session.MetricsSnapshot()
	fmt.Printf("\nRequests: %d total, %d errors\n", snap.TotalOps, snap.RequestErrors)
	fmt.Printf("Inferences: %d ok, %d rejected, %d aborted, %d failed\n",
		snap.InferencesOK, snap.InferencesRejected, snap.InferencesAborted, snap.InferencesFailed)
	fmt.Printf("Latency: avg %s, p99 %s\n", formatNs(snap.AvgLatencyNs), formatNs(snap.LatencyP99Ns))
}

func statusName(s wire.Status) string {
	switch s {
	case wire.StatusOK:
		return "OK"
	case wire.StatusError:
		return "ERROR"
	case wire.StatusRunning:
		return "RUNNING"
	case wire.StatusRejected:
		return "REJECTED"
	case wire.StatusAborted:
		return "ABORTED"
	case wire.StatusAborting:
		return "ABORTING"
	default:
		return "UNKNOWN"
	}
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// parseSize parses a size string like "64M", "1G", "512K"
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	var multiplier int64 = 1
	var numStr string

	if strings.HasSuffix(s, "K") {
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	} else if strings.HasSuffix(s, "M") {
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	} else if strings.HasSuffix(s, "G") {
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	} else {
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}

	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}

// formatNs formats a nanosecond count as a human-readable duration
func formatNs(ns uint64) string {
	switch {
	case ns < 1_000:
		return fmt.Sprintf("%dns", ns)
	case ns < 1_000_000:
		return fmt.Sprintf("%.1fus", float64(ns)/1_000)
	case ns < 1_000_000_000:
		return fmt.Sprintf("%.1fms", float64(ns)/1_000_000)
	default:
		return fmt.Sprintf("%.2fs", float64(ns)/1_000_000_000)
	}
}
