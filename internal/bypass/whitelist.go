package bypass

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/edugate/edugate/internal/config"
	"github.com/edugate/edugate/internal/gateerrors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

type Category string

const (
	CategoryInfrastructure Category = "infrastructure"
	CategoryMonitoring     Category = "monitoring"
	CategoryOperator       Category = "operator"
)

type Source string

const (
	SourceStatic  Source = "static"
	SourceRuntime Source = "runtime"
)

// Entry is one whitelisted address or CIDR range.
type Entry struct {
	Address  string   `json:"address"`
	Category Category `json:"category"`
	Source   Source   `json:"source"`
}

type parsedEntry struct {
	Entry
	network *net.IPNet
}

// Whitelist is the read-mostly set of trusted addresses. It is read on every
// request and mutated only by administrative action, so a reader-writer lock
// keeps readers unblocked except for the brief write window.
type Whitelist struct {
	mu      sync.RWMutex
	entries map[string]parsedEntry
	log     logrus.FieldLogger
}

// NewWhitelist seeds the set from static configuration. Invalid static
// entries fail construction rather than silently shrinking the set.
func NewWhitelist(static []config.WhitelistEntry, log logrus.FieldLogger) (*Whitelist, error) {
	w := &Whitelist{
		entries: make(map[string]parsedEntry, len(static)),
		log:     log,
	}
	for _, e := range static {
		entry := Entry{
			Address:  e.Address,
			Category: Category(e.Category),
			Source:   SourceStatic,
		}
		if entry.Category == "" {
			entry.Category = CategoryInfrastructure
		}
		if err := w.add(entry); err != nil {
			return nil, fmt.Errorf("static whitelist entry %q: %w", e.Address, err)
		}
	}
	return w, nil
}

// Add inserts a runtime entry. Every mutation is audited via the log.
func (w *Whitelist) Add(entry Entry) error {
	if entry.Source == "" {
		entry.Source = SourceRuntime
	}
	if entry.Category == "" {
		entry.Category = CategoryOperator
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.add(entry); err != nil {
		return err
	}
	w.log.WithFields(logrus.Fields{
		"event":    "whitelist_added",
		"address":  entry.Address,
		"category": entry.Category,
		"source":   entry.Source,
	}).Info("whitelist entry added")
	return nil
}

// add parses and stores an entry. Callers hold the lock (or own the struct
// exclusively during construction).
func (w *Whitelist) add(entry Entry) error {
	network, err := parseAddress(entry.Address)
	if err != nil {
		return err
	}
	key := network.String()
	if _, exists := w.entries[key]; exists {
		return gateerrors.ErrWhitelistEntryExists
	}
	entry.Address = key
	w.entries[key] = parsedEntry{Entry: entry, network: network}
	return nil
}

// Remove deletes an entry by address (literal or CIDR).
func (w *Whitelist) Remove(address string) error {
	network, err := parseAddress(address)
	if err != nil {
		return err
	}
	key := network.String()

	w.mu.Lock()
	defer w.mu.Unlock()
	entry, exists := w.entries[key]
	if !exists {
		return gateerrors.ErrWhitelistEntryNotFound
	}
	delete(w.entries, key)
	w.log.WithFields(logrus.Fields{
		"event":    "whitelist_removed",
		"address":  key,
		"category": entry.Category,
		"source":   entry.Source,
	}).Info("whitelist entry removed")
	return nil
}

// Contains reports whether ip matches any entry and returns the first match.
func (w *Whitelist) Contains(ip net.IP) (Entry, bool) {
	if ip == nil {
		return Entry{}, false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, entry := range w.entries {
		if entry.network.Contains(ip) {
			return entry.Entry, true
		}
	}
	return Entry{}, false
}

// Entries returns a sorted snapshot for the administrative API.
func (w *Whitelist) Entries() []Entry {
	w.mu.RLock()
	defer w.mu.RUnlock()

	entries := lo.Map(lo.Values(w.entries), func(e parsedEntry, _ int) Entry {
		return e.Entry
	})
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Address < entries[j].Address
	})
	return entries
}

// parseAddress accepts a CIDR or a literal IP, normalizing literals to
// single-host networks.
func parseAddress(address string) (*net.IPNet, error) {
	s := strings.TrimSpace(address)
	if s == "" {
		return nil, gateerrors.ErrInvalidAddress
	}
	if strings.Contains(s, "/") {
		_, network, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", gateerrors.ErrInvalidAddress, address)
		}
		return network, nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", gateerrors.ErrInvalidAddress, address)
	}
	if ip4 := ip.To4(); ip4 != nil {
		return &net.IPNet{IP: ip4, Mask: net.CIDRMask(32, 32)}, nil
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil
}
