package reqid

import (
	"fmt"
	"os"
	"sync/atomic"
)

var (
	prefix  string
	counter atomic.Uint64
)

func init() {
	hostname, err := os.Hostname()
	if hostname == "" || err != nil {
		hostname = "localhost"
	}
	prefix = hostname
}

// NextRequestID returns a process-unique id of the form <hostname>-<seq>,
// stamped on each incoming request for log correlation.
func NextRequestID() string {
	return fmt.Sprintf("%s-%09d", prefix, counter.Add(1))
}
