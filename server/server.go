package server

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"replsend/protocol"
	"replsend/replication"
)

// Server is the control-protocol front end: it accepts mTLS
// connections from masters, and for each one dispatches PING, QUIT,
// rr_make_snapshot, and rr_transfer_snapshot. A transfer request dials
// out to the target replica and hands both ends to
// replication.Dispatcher; the control connection itself becomes the
// job's master link for the duration of the transfer.
type Server struct {
	addr        string
	logger      *slog.Logger
	listener    net.Listener
	maxConns    int
	sem         chan struct{}
	wg          sync.WaitGroup
	totalConns  uint64
	activeConns int64

	tlsConfig        *tls.Config
	tlsCertFile      string
	tlsKeyFile       string
	tlsCAFile        string
	currentTLSConfig atomic.Value

	dispatcher  *replication.Dispatcher
	dialTimeout time.Duration
}

func New(addr string, logger *slog.Logger, maxConns int, tlsCert, tlsKey, tlsCA string, dispatcher *replication.Dispatcher) (*Server, error) {
	if tlsCert == "" || tlsKey == "" || tlsCA == "" {
		return nil, fmt.Errorf("tls cert, key, and ca required")
	}

	s := &Server{
		addr:        addr,
		logger:      logger,
		maxConns:    maxConns,
		sem:         make(chan struct{}, maxConns),
		tlsCertFile: tlsCert,
		tlsKeyFile:  tlsKey,
		tlsCAFile:   tlsCA,
		dispatcher:  dispatcher,
		dialTimeout: 10 * time.Second,
	}

	if err := s.ReloadTLS(); err != nil {
		return nil, err
	}

	s.tlsConfig = &tls.Config{
		GetConfigForClient: func(hi *tls.ClientHelloInfo) (*tls.Config, error) {
			return s.currentTLSConfig.Load().(*tls.Config), nil
		},
		MinVersion: tls.VersionTLS12,
		ClientAuth: tls.RequireAndVerifyClientCert,
	}

	return s, nil
}

// ReloadTLS re-reads the certificate, key, and CA files from disk and
// installs them atomically so in-flight connections are unaffected.
func (s *Server) ReloadTLS() error {
	cert, err := tls.LoadX509KeyPair(s.tlsCertFile, s.tlsKeyFile)
	if err != nil {
		return err
	}
	caCert, err := os.ReadFile(s.tlsCAFile)
	if err != nil {
		return err
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caCert)

	s.currentTLSConfig.Store(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	})
	return nil
}

func (s *Server) Run(ctx context.Context) error {
	ln, err := tls.Listen("tcp", s.addr, s.tlsConfig)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("server listening", "addr", s.addr)

	go s.handleSignals(ctx)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "closed") {
				return nil
			}
			s.logger.Error("accept error", "err", err)
			continue
		}

		atomic.AddUint64(&s.totalConns, 1)
		select {
		case s.sem <- struct{}{}:
			atomic.AddInt64(&s.activeConns, 1)
			s.wg.Add(1)
			go s.handleConnection(ctx, conn)
		default:
			s.writeBinaryResponse(conn, protocol.ResStatusServerBusy, []byte("max connections"))
			conn.Close()
		}
	}
}

func (s *Server) handleSignals(ctx context.Context) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			s.logger.Info("reloading TLS")
			if err := s.ReloadTLS(); err != nil {
				s.logger.Error("TLS reload failed", "err", err)
			}
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		conn.Close()
		atomic.AddInt64(&s.activeConns, -1)
		s.wg.Done()
		<-s.sem
	}()

	r := bufio.NewReader(conn)
	header := make([]byte, protocol.ProtoHeaderSize)

	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(protocol.IdleTimeout))

		if _, err := io.ReadFull(r, header); err != nil {
			return
		}

		opCode := header[0]
		payloadLen := binary.BigEndian.Uint32(header[1:])
		if payloadLen > protocol.MaxCommandSize {
			s.writeBinaryResponse(conn, protocol.ResStatusEntityTooLarge, nil)
			return
		}

		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return
		}

		conn.SetWriteDeadline(time.Now().Add(protocol.DefaultWriteTimeout))

		if s.dispatchCommand(ctx, conn, opCode, payload) {
			return
		}
	}
}

func (s *Server) dispatchCommand(ctx context.Context, conn net.Conn, opCode uint8, payload []byte) bool {
	switch opCode {
	case protocol.OpCodePing:
		s.writeBinaryResponse(conn, protocol.ResStatusOK, []byte("PONG"))
	case protocol.OpCodeQuit:
		return true
	case protocol.OpCodeReplMakeSnapshot:
		s.handleMakeSnapshot(conn)
	case protocol.OpCodeReplTransferSnapshot:
		return s.handleTransferSnapshot(conn, payload) != nil
	default:
		s.writeBinaryResponse(conn, protocol.ResStatusErr, []byte("unknown opcode"))
	}
	return false
}

func (s *Server) handleMakeSnapshot(conn net.Conn) {
	if err := s.dispatcher.HandleMakeSnapshot(); err != nil {
		s.writeBinaryResponse(conn, protocol.ResStatusErr, []byte(err.Error()))
		return
	}
	s.writeBinaryResponse(conn, protocol.ResStatusOK, nil)
}

// handleTransferSnapshot dials the replica named in payload and runs
// the job to completion. A nil return means the control connection is
// still usable and goes back to the command loop; a non-nil return
// ends the command loop, which closes the connection (after a failed
// job the dispatcher has already closed it; a busy dispatcher returns
// ErrJobInProgress without touching it).
func (s *Server) handleTransferSnapshot(conn net.Conn, payload []byte) error {
	req, err := parseTransferRequest(payload)
	if err != nil {
		s.writeBinaryResponse(conn, protocol.ResStatusErr, []byte(err.Error()))
		return nil
	}

	slaveConn, err := net.DialTimeout("tcp", req.PeerAddr, s.dialTimeout)
	if err != nil {
		s.writeBinaryResponse(conn, protocol.ResStatusErr, []byte(fmt.Errorf("%w: %v", replication.ErrSlaveConnectFailed, err).Error()))
		return nil
	}

	s.writeBinaryResponse(conn, protocol.ResStatusOK, []byte("transfer starting"))

	// The transfer can run far past the per-command deadlines; liveness
	// on this connection is the job's heartbeat from here on.
	conn.SetDeadline(time.Time{})

	if err := s.dispatcher.HandleTransferSnapshot(req, conn, slaveConn); err != nil {
		s.logger.Error("snapshot transfer failed", "peer", req.PeerAddr, "err", err)
		return err
	}
	return nil
}

func parseTransferRequest(payload []byte) (replication.JobRequest, error) {
	fields, err := decodeReplyPayload(payload)
	if err != nil || len(fields) != 4 {
		return replication.JobRequest{}, fmt.Errorf("malformed transfer request")
	}
	heartbeat, _ := strconv.ParseBool(fields[1])
	compress, _ := strconv.ParseBool(fields[2])
	replTS, _ := strconv.ParseInt(fields[3], 10, 64)
	return replication.JobRequest{
		PeerAddr:  fields[0],
		Heartbeat: heartbeat,
		Compress:  compress,
		ReplTS:    replTS,
	}, nil
}

func decodeReplyPayload(payload []byte) ([]string, error) {
	return replication.DecodeReplyFields(bufio.NewReader(bytes.NewReader(payload)))
}

func (s *Server) writeBinaryResponse(w io.Writer, status byte, body []byte) error {
	header := make([]byte, protocol.ProtoHeaderSize)
	header[0] = status
	binary.BigEndian.PutUint32(header[1:], uint32(len(body)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(body) > 0 {
		_, err := w.Write(body)
		return err
	}
	return nil
}

// SetDispatcher wires the dispatcher in after construction, for callers
// that need a *Server (to satisfy metrics.ServerStatsProvider) before
// the dispatcher it will use can itself be built.
func (s *Server) SetDispatcher(d *replication.Dispatcher) { s.dispatcher = d }

func (s *Server) CloseAll() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) ActiveConns() int64 { return atomic.LoadInt64(&s.activeConns) }
func (s *Server) TotalConns() uint64 { return atomic.LoadUint64(&s.totalConns) }
