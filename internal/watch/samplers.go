package watch

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"apptrigger/internal/logging"
	"apptrigger/internal/system"
)

// ProcessSampler reports whether a process with exactly this name is running.
func ProcessSampler(lister system.ProcessLister, name string) (Sampler, error) {
	m, err := system.NewMatcher(name, false)
	if err != nil {
		return nil, err
	}
	return func(context.Context) (bool, error) {
		all, err := lister.Processes()
		if err != nil {
			return false, err
		}
		return len(system.Filter(all, m)) > 0, nil
	}, nil
}

// PortSampler reports whether address:port accepts connections.
func PortSampler(prober system.PortProber, address string, port int, timeout time.Duration) Sampler {
	return func(ctx context.Context) (bool, error) {
		return prober.Probe(ctx, address, port, timeout)
	}
}

// WatchProcess polls for processes named name and reports Started and Stopped.
func WatchProcess(ctx context.Context, lister system.ProcessLister, name string, interval time.Duration, log logging.Logger, handler Handler) (*Poller, error) {
	sample, err := ProcessSampler(lister, name)
	if err != nil {
		return nil, err
	}
	return StartPolling(ctx, Config{
		Target:   system.NormalizeName(name),
		Interval: interval,
		Sample:   sample,
		Up:       Started,
		Down:     Stopped,
		Log:      log,
	}, handler)
}

// WatchPort polls address:port and reports Opened and Closed.
func WatchPort(ctx context.Context, prober system.PortProber, address string, port int, interval, timeout time.Duration, log logging.Logger, handler Handler) (*Poller, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("port %d out of range", port)
	}
	if address == "" {
		address = "127.0.0.1"
	}
	return StartPolling(ctx, Config{
		Target:   net.JoinHostPort(address, strconv.Itoa(port)),
		Interval: interval,
		Sample:   PortSampler(prober, address, port, timeout),
		Up:       Opened,
		Down:     Closed,
		Log:      log,
	}, handler)
}
