package ports

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/junctionhq/junction/pkg/types"
)

// DefaultMaxAttempts bounds a single FindAvailable scan.
const DefaultMaxAttempts = 100

// Lease records an in-process claim on a port.
type Lease struct {
	Port       int
	OwnerID    string
	AcquiredAt time.Time
}

// Allocator hands out currently-unbound TCP ports within a configured
// range. Allocation is advisory: a bind-and-close probe checks the port
// at allocation time, and the lease set prevents two concurrent
// registrations from racing for the same port before either binds it.
type Allocator struct {
	min int
	max int

	mu     sync.Mutex
	leases map[int]*Lease
}

// NewAllocator creates an allocator for the inclusive range [min, max].
func NewAllocator(min, max int) *Allocator {
	return &Allocator{
		min:    min,
		max:    max,
		leases: make(map[int]*Lease),
	}
}

// FindAvailable probes startPort, startPort+1, ... and returns the first
// port that is neither leased nor bound by another process. It fails
// with PortExhausted after maxAttempts probes or on leaving the range.
// The returned port is leased to ownerID; pair with Release.
func (a *Allocator) FindAvailable(startPort int, maxAttempts int, ownerID string) (int, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if startPort < a.min {
		startPort = a.min
	}

	for i := 0; i < maxAttempts; i++ {
		port := startPort + i
		if port > a.max {
			break
		}

		a.mu.Lock()
		if _, leased := a.leases[port]; leased {
			a.mu.Unlock()
			continue
		}
		// Claim before the bind probe so a concurrent scan skips this
		// port even if both would pass the probe.
		a.leases[port] = &Lease{Port: port, OwnerID: ownerID, AcquiredAt: time.Now()}
		a.mu.Unlock()

		if bindable(port) {
			return port, nil
		}

		a.mu.Lock()
		delete(a.leases, port)
		a.mu.Unlock()
	}

	return 0, types.NewError(types.KindPortExhausted,
		"no free port in [%d, %d] starting at %d after %d attempts",
		a.min, a.max, startPort, maxAttempts)
}

// Acquire leases a specific port without a bind probe. It fails if the
// port is already leased.
func (a *Allocator) Acquire(port int, ownerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if l, ok := a.leases[port]; ok {
		return fmt.Errorf("port %d already leased to %s", port, l.OwnerID)
	}
	a.leases[port] = &Lease{Port: port, OwnerID: ownerID, AcquiredAt: time.Now()}
	return nil
}

// Release removes the lease on port. Releasing an unleased port is a
// no-op.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.leases, port)
}

// Leased reports whether port is currently leased.
func (a *Allocator) Leased(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.leases[port]
	return ok
}

// LeaseCount returns the number of live leases.
func (a *Allocator) LeaseCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.leases)
}

// Bindable reports whether port passes a bind-and-close probe right now.
func (a *Allocator) Bindable(port int) bool {
	return bindable(port)
}

// bindable performs the bind-and-close test on IPv4 0.0.0.0.
func bindable(port int) bool {
	ln, err := net.Listen("tcp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
