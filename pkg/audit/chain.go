// Package audit maintains the append-only, hash-chained, signed receipt
// log. Every pipeline stage transition — allow or deny — lands here
// exactly once; the chain head is the value capability tokens bind to.
package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roundtree-labs/roundtree/pkg/canonicalize"
	"github.com/roundtree-labs/roundtree/pkg/contracts"
	rtcrypto "github.com/roundtree-labs/roundtree/pkg/crypto"
)

// Genesis is the sentinel prev value of the first receipt.
const Genesis = "genesis"

// Store persists receipts as they are appended. Implementations must be
// append-only; the chain never rewrites history.
type Store interface {
	SaveReceipt(r contracts.Receipt) error
	LoadReceipts() ([]contracts.Receipt, error)
}

// ChainLog is the in-process receipt chain. Appends are serialized; the
// head observed between two appends is stable.
type ChainLog struct {
	mu      sync.Mutex
	signer  *rtcrypto.Signer
	system  string
	clock   func() time.Time
	nonce   func() string
	store   Store
	head    string
	entries []contracts.Receipt
}

// Option configures a ChainLog.
type Option func(*ChainLog)

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(l *ChainLog) { l.clock = clock }
}

// WithNonce overrides the receipt-ID source.
func WithNonce(nonce func() string) Option {
	return func(l *ChainLog) { l.nonce = nonce }
}

// WithStore attaches a persistent store; every append is written through.
func WithStore(s Store) Option {
	return func(l *ChainLog) { l.store = s }
}

// NewChainLog builds an empty chain rooted at the genesis sentinel.
func NewChainLog(signer *rtcrypto.Signer, system string, opts ...Option) *ChainLog {
	l := &ChainLog{
		signer: signer,
		system: system,
		clock:  time.Now,
		nonce:  uuid.NewString,
		head:   Genesis,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ResumeChainLog rebuilds a chain from its store, verifying every stored
// receipt against the signer's key before trusting the head. The store
// stays attached for write-through.
func ResumeChainLog(signer *rtcrypto.Signer, system string, store Store, opts ...Option) (*ChainLog, error) {
	receipts, err := store.LoadReceipts()
	if err != nil {
		return nil, fmt.Errorf("audit: resume: %w", err)
	}
	if err := Replay(receipts, signer.PublicKeyHex()); err != nil {
		return nil, fmt.Errorf("audit: resume: %w", err)
	}
	l := NewChainLog(signer, system, opts...)
	l.store = store
	l.entries = receipts
	if len(receipts) > 0 {
		l.head = receipts[len(receipts)-1].Head
	}
	return l, nil
}

// Append signs and links a new receipt. On store failure the in-memory
// chain is not advanced, so memory and disk cannot diverge.
func (l *ChainLog) Append(event string, fields map[string]string) (contracts.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	payload := contracts.ReceiptPayload{
		System:    l.system,
		Timestamp: l.clock().UTC().Format(time.RFC3339Nano),
		Event:     event,
		Fields:    fields,
		Prev:      l.head,
	}
	eventHash, err := canonicalize.CanonicalHash(payload)
	if err != nil {
		return contracts.Receipt{}, fmt.Errorf("audit: hash payload: %w", err)
	}
	sig := l.signer.Sign([]byte(eventHash))
	head := ChainHead(l.head, eventHash, sig)

	r := contracts.Receipt{
		ReceiptID: l.nonce(),
		System:    payload.System,
		Timestamp: payload.Timestamp,
		Event:     payload.Event,
		Fields:    payload.Fields,
		Prev:      payload.Prev,
		EventHash: eventHash,
		Signature: sig,
		Head:      head,
	}
	if l.store != nil {
		if err := l.store.SaveReceipt(r); err != nil {
			return contracts.Receipt{}, fmt.Errorf("audit: persist receipt: %w", err)
		}
	}
	l.head = head
	l.entries = append(l.entries, r)
	return r, nil
}

// ChainHead computes the linked head value for one receipt.
func ChainHead(prev, eventHash, signature string) string {
	return canonicalize.HashString("HEAD|" + prev + "|" + eventHash + "|" + signature)
}

// Head returns the current chain head, or the genesis sentinel.
func (l *ChainLog) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// Len returns the number of receipts appended.
func (l *ChainLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns a copy of the chain.
func (l *ChainLog) Entries() []contracts.Receipt {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]contracts.Receipt, len(l.entries))
	copy(out, l.entries)
	return out
}

// PublicKeyHex exposes the verifying key for external replay.
func (l *ChainLog) PublicKeyHex() string {
	return l.signer.PublicKeyHex()
}

// VerifyTail re-derives the last n receipts: payload hash, signature,
// prev linkage, and head. n <= 0 verifies the whole chain.
func (l *ChainLog) VerifyTail(n int) error {
	entries := l.Entries()
	if n <= 0 || n > len(entries) {
		n = len(entries)
	}
	return Replay(entries[len(entries)-n:], l.PublicKeyHex())
}

// Replay statically verifies a receipt slice against a hex public key.
// The slice may start mid-chain; linkage is checked from its first entry.
func Replay(receipts []contracts.Receipt, publicKeyHex string) error {
	for i, r := range receipts {
		eventHash, err := canonicalize.CanonicalHash(r.Payload())
		if err != nil {
			return fmt.Errorf("audit: receipt %d: hash: %w", i, err)
		}
		if eventHash != r.EventHash {
			return fmt.Errorf("audit: receipt %d (%s): event hash mismatch", i, r.ReceiptID)
		}
		ok, err := rtcrypto.Verify(publicKeyHex, r.Signature, []byte(r.EventHash))
		if err != nil {
			return fmt.Errorf("audit: receipt %d: verify: %w", i, err)
		}
		if !ok {
			return fmt.Errorf("audit: receipt %d (%s): bad signature", i, r.ReceiptID)
		}
		if head := ChainHead(r.Prev, r.EventHash, r.Signature); head != r.Head {
			return fmt.Errorf("audit: receipt %d (%s): head mismatch", i, r.ReceiptID)
		}
		if i > 0 && r.Prev != receipts[i-1].Head {
			return fmt.Errorf("audit: receipt %d (%s): broken prev link", i, r.ReceiptID)
		}
	}
	return nil
}
