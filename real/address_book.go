package real

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerlink/transport"
)

// ErrUnknownPeer is returned when the book has no endpoint for a peer on
// the requested transport.
var ErrUnknownPeer = errors.New("no address for peer")

// AddressBook stores per-transport endpoints for peers. It is safe for
// concurrent use.
type AddressBook struct {
	mu    sync.RWMutex
	addrs map[string]map[transport.Kind]string
}

// NewAddressBook creates an empty address book.
func NewAddressBook() *AddressBook {
	return &AddressBook{addrs: make(map[string]map[transport.Kind]string)}
}

// Set records the endpoint for peerID on kind, replacing any previous one.
func (b *AddressBook) Set(peerID string, kind transport.Kind, addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	byKind, ok := b.addrs[peerID]
	if !ok {
		byKind = make(map[transport.Kind]string)
		b.addrs[peerID] = byKind
	}
	byKind[kind] = addr

	logrus.WithFields(logrus.Fields{
		"function":  "AddressBook.Set",
		"peer_id":   peerID,
		"transport": string(kind),
		"addr":      addr,
	}).Debug("Peer address recorded")
}

// Lookup returns the endpoint for peerID on kind.
func (b *AddressBook) Lookup(peerID string, kind transport.Kind) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	addr, ok := b.addrs[peerID][kind]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrUnknownPeer, peerID, kind)
	}
	return addr, nil
}

// Remove forgets every endpoint of peerID.
func (b *AddressBook) Remove(peerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.addrs, peerID)
}

// Peers returns the known peer IDs in sorted order.
func (b *AddressBook) Peers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	peers := make([]string, 0, len(b.addrs))
	for peerID := range b.addrs {
		peers = append(peers, peerID)
	}
	sort.Strings(peers)
	return peers
}
