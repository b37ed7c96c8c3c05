// Package net implements the authenticated, reliable peer transport spec §6
// treats as a black box ("request/response channel, NAT traversal,
// encryption, out of scope"): a github.com/libp2p/go-libp2p host speaking a
// single length-prefixed request/response protocol carrying net/message
// wire messages.
package net

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"

	logging "github.com/ipfs/go-log"

	"github.com/monero-btc-swap/swapd/common"
	"github.com/monero-btc-swap/swapd/common/types"
	"github.com/monero-btc-swap/swapd/net/message"
)

var log = logging.Logger("net")

// maxMessageSize bounds a single length-prefixed frame, guarding against a
// malicious peer claiming an unbounded body length.
const maxMessageSize = 1 << 20 // 1 MiB

// Message is the interface every value sent over a Host stream implements.
type Message = common.Message

// SwapState is implemented by an in-flight swap driver (protocol/taker or
// protocol/maker) so the Host can route a peer's follow-up messages to the
// right swap once SwapSetup has assigned it a types.SwapID.
type SwapState interface {
	ID() types.SwapID
	HandleProtocolMessage(msg Message) error
	Exit() error
}

// QuoteHandler answers an incoming QuoteRequest with this node's current
// terms, and begins a new swap driver once a counterparty commits to one.
type QuoteHandler interface {
	GetQuote() (*message.QuoteResponse, error)
	HandleInitiateMessage(from peer.ID, msg *message.SendKeysMessage) (SwapState, Message, error)
}

// CooperativeHandler answers cooperative-path requests from the
// counterparty of an ongoing swap (spec §4.7).
type CooperativeHandler interface {
	HandleCooperativeXMRRedeemRequest(req *message.CooperativeXMRRedeemRequest) (Message, error)
}

// Config configures a Host.
type Config struct {
	Ctx        context.Context
	DataDir    string
	Port       uint16
	KeyFile    string
	Bootnodes  []string
	ProtocolID string
	ListenIP   string
}

// Host wraps a libp2p host.Host, dispatching messages on a single protocol
// ID to the registered handlers.
type Host struct {
	ctx        context.Context
	h          host.Host
	protocolID protocol.ID

	mu          sync.RWMutex
	quoteH      QuoteHandler
	coopH       CooperativeHandler
	ongoing     map[types.SwapID]SwapState
}

// NewHost constructs and starts listening on a new libp2p Host, loading its
// identity key from cfg.KeyFile (generating and persisting one if absent).
func NewHost(cfg *Config) (*Host, error) {
	priv, err := loadOrCreateKey(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load net identity key: %w", err)
	}

	listenAddr, err := ma.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", cfg.ListenIP, cfg.Port))
	if err != nil {
		return nil, err
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrs(listenAddr),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	hst := &Host{
		ctx:        cfg.Ctx,
		h:          h,
		protocolID: protocol.ID(cfg.ProtocolID),
		ongoing:    make(map[types.SwapID]SwapState),
	}

	h.SetStreamHandler(hst.protocolID, hst.handleStream)

	for _, addr := range cfg.Bootnodes {
		if err := hst.connect(addr); err != nil {
			log.Warnf("failed to connect to bootnode %s: %s", addr, err)
		}
	}

	log.Infof("net host listening at %v with id %s", h.Addrs(), h.ID())
	return hst, nil
}

// SetHandlers registers the quote/setup and cooperative-path handlers. Must
// be called once, before the host is used to serve incoming connections.
func (h *Host) SetHandlers(quoteH QuoteHandler, coopH CooperativeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.quoteH = quoteH
	h.coopH = coopH
}

// RegisterSwap makes an in-flight swap's messages routable by its SwapID.
func (h *Host) RegisterSwap(s SwapState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ongoing[s.ID()] = s
}

// DeregisterSwap stops routing messages to a finished swap.
func (h *Host) DeregisterSwap(id types.SwapID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.ongoing, id)
}

// Addrs returns the host's listen multiaddresses.
func (h *Host) Addrs() []ma.Multiaddr { return h.h.Addrs() }

// PeerID returns the host's own peer ID.
func (h *Host) PeerID() peer.ID { return h.h.ID() }

// Stop tears down the libp2p host.
func (h *Host) Stop() error {
	return h.h.Close()
}

func (h *Host) connect(addr string) error {
	_, err := h.Connect(addr)
	return err
}

// Connect dials addr (a multiaddr with a trailing /p2p/<peerID>) and returns
// the peer's ID, for later use with QueryPeer/SendSwapMessage. Exported so
// protocol/taker can dial a maker it only knows by address, before any swap
// has assigned the two sides a shared SwapID.
func (h *Host) Connect(addr string) (peer.ID, error) {
	info, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return "", err
	}
	if err := h.h.Connect(h.ctx, *info); err != nil {
		return "", err
	}
	return info.ID, nil
}

// QueryPeer opens a stream to p and sends a QuoteRequest, returning its
// QuoteResponse.
func (h *Host) QueryPeer(ctx context.Context, p peer.ID) (*message.QuoteResponse, error) {
	resp, err := h.request(ctx, p, &message.QuoteRequest{})
	if err != nil {
		return nil, err
	}
	qr, ok := resp.(*message.QuoteResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T to QuoteRequest", resp)
	}
	return qr, nil
}

// SendSwapMessage opens a stream to p and sends msg, returning the
// counterparty's response (if the message type expects one).
func (h *Host) SendSwapMessage(ctx context.Context, p peer.ID, msg Message) (Message, error) {
	return h.request(ctx, p, msg)
}

func (h *Host) request(ctx context.Context, p peer.ID, msg Message) (Message, error) {
	s, err := h.h.NewStream(ctx, p, h.protocolID)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream to %s: %w", p, err)
	}
	defer s.Close() //nolint:errcheck

	if err := writeFrame(s, msg); err != nil {
		return nil, err
	}

	respBytes, err := readFrame(s)
	if err != nil {
		return nil, err
	}

	return message.DecodeMessage(respBytes)
}

func (h *Host) handleStream(s network.Stream) {
	defer s.Close() //nolint:errcheck

	b, err := readFrame(s)
	if err != nil {
		log.Warnf("failed to read frame from %s: %s", s.Conn().RemotePeer(), err)
		return
	}

	msg, err := message.DecodeMessage(b)
	if err != nil {
		log.Warnf("failed to decode message from %s: %s", s.Conn().RemotePeer(), err)
		return
	}

	resp, err := h.dispatch(s.Conn().RemotePeer(), msg)
	if err != nil {
		log.Warnf("failed to handle %s from %s: %s", msg, s.Conn().RemotePeer(), err)
		return
	}
	if resp == nil {
		return
	}

	if err := writeFrame(s, resp); err != nil {
		log.Warnf("failed to write response to %s: %s", s.Conn().RemotePeer(), err)
	}
}

// IsNoResponseExpected reports whether err is the read error produced by
// sending a message type dispatchToSwap handles: those are delivered to
// HandleProtocolMessage and never produce a response frame, so the stream
// closes having written nothing back. Callers sending such messages should
// treat this specific error as successful delivery, not failure.
func IsNoResponseExpected(err error) bool {
	return errors.Is(err, io.EOF)
}

func (h *Host) dispatch(from peer.ID, msg Message) (Message, error) {
	h.mu.RLock()
	quoteH, coopH := h.quoteH, h.coopH
	h.mu.RUnlock()

	switch m := msg.(type) {
	case *message.QuoteRequest:
		return quoteH.GetQuote()
	case *message.SendKeysMessage:
		_, resp, err := quoteH.HandleInitiateMessage(from, m)
		return resp, err
	case *message.CooperativeXMRRedeemRequest:
		return coopH.HandleCooperativeXMRRedeemRequest(m)
	default:
		return h.dispatchToSwap(msg)
	}
}

func (h *Host) dispatchToSwap(msg Message) (Message, error) {
	id, ok := extractSwapID(msg)
	if !ok {
		return nil, fmt.Errorf("message type %T carries no SwapID to route on", msg)
	}

	h.mu.RLock()
	s, ok := h.ongoing[id]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no ongoing swap with id %s", id)
	}

	return nil, s.HandleProtocolMessage(msg)
}

func extractSwapID(msg Message) (types.SwapID, bool) {
	switch m := msg.(type) {
	case *message.SwapSetupCommitment:
		return m.SwapID, true
	case *message.SwapSetupConfirmation:
		return m.SwapID, true
	case *message.NotifyBTCLocked:
		return m.SwapID, true
	case *message.TransferProof:
		return m.SwapID, true
	case *message.EncryptedSignature:
		return m.SwapID, true
	case *message.EncryptedSignatureAck:
		return m.SwapID, true
	case *message.CooperativeXMRRedeemAccepted:
		return m.SwapID, true
	case *message.CooperativeXMRRedeemRejected:
		return m.SwapID, true
	default:
		return types.SwapID{}, false
	}
}

// writeFrame writes a 4-byte big-endian length prefix followed by msg's
// type-tagged encoding.
func writeFrame(w io.Writer, msg Message) error {
	b, err := msg.Encode()
	if err != nil {
		return err
	}
	if len(b) > maxMessageSize {
		return fmt.Errorf("message too large: %d bytes", len(b))
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	var lenBuf [4]byte
	if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxMessageSize {
		return nil, fmt.Errorf("frame too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func loadOrCreateKey(keyFile string) (crypto.PrivKey, error) {
	if b, err := os.ReadFile(keyFile); err == nil {
		return crypto.UnmarshalPrivateKey(b)
	}

	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}

	b, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(path.Dir(keyFile), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyFile, b, 0o600); err != nil {
		return nil, err
	}

	return priv, nil
}
