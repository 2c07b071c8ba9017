package main

import (
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/rfbproto/metrics"
	"github.com/opd-ai/rfbproto/rfb"
	"github.com/opd-ai/rfbproto/scheduler"
	"github.com/opd-ai/rfbproto/security"
	"github.com/opd-ai/rfbproto/transport"
)

type serveOptions struct {
	tcpAddr     string
	wsAddr      string
	auth        string
	password    string
	logLevel    string
	metricsAddr string
}

func serveCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept RFB connections and log decoded packets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	cmd.Flags().StringVar(&opts.tcpAddr, "listen", ":5900", "TCP listen address, empty to disable")
	cmd.Flags().StringVar(&opts.wsAddr, "ws-listen", "", "WebSocket listen address, empty to disable")
	cmd.Flags().StringVar(&opts.auth, "auth", "none", "security negotiation: none or vnc")
	cmd.Flags().StringVar(&opts.password, "password", "", "password for --auth vnc")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "logrus level")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-listen", "", "Prometheus listen address, empty to disable")
	return cmd
}

func runServe(opts *serveOptions) error {
	level, err := logrus.ParseLevel(opts.logLevel)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	logrus.SetLevel(level)

	negotiator, err := buildNegotiator(opts)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if opts.metricsAddr != "" {
		m = metrics.New()
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(opts.metricsAddr, mux); err != nil {
				logrus.WithError(err).Error("metrics listener failed")
			}
		}()
	}

	srv := &server{negotiator: negotiator, metrics: m}

	errCh := make(chan error, 2)
	active := 0
	if opts.tcpAddr != "" {
		active++
		go func() { errCh <- srv.serveTCP(opts.tcpAddr) }()
	}
	if opts.wsAddr != "" {
		active++
		go func() { errCh <- srv.serveWebSocket(opts.wsAddr) }()
	}
	if active == 0 {
		return fmt.Errorf("nothing to do: both --listen and --ws-listen are empty")
	}
	return <-errCh
}

func buildNegotiator(opts *serveOptions) (rfb.SecurityNegotiator, error) {
	switch opts.auth {
	case "none":
		return security.NewNone(), nil
	case "vnc":
		if opts.password == "" {
			return nil, fmt.Errorf("--auth vnc requires --password")
		}
		return security.NewVNCAuth(opts.password), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", opts.auth)
	}
}

type server struct {
	negotiator rfb.SecurityNegotiator
	metrics    *metrics.Metrics
}

func (s *server) serveTCP(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	logrus.WithFields(logrus.Fields{
		"address": listener.Addr().String(),
	}).Info("accepting RFB connections over TCP")
	for {
		conn, err := listener.Accept()
		if err != nil {
			return fmt.Errorf("accepting connection: %w", err)
		}
		go s.handle(transport.NewTCPConn(conn), conn.RemoteAddr().String())
	}
}

func (s *server) serveWebSocket(addr string) error {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logrus.WithError(err).Warn("WebSocket upgrade failed")
			return
		}
		s.handle(transport.NewWSConn(ws), r.RemoteAddr)
	})
	logrus.WithFields(logrus.Fields{
		"address": addr,
	}).Info("accepting RFB connections over WebSocket")
	return http.ListenAndServe(addr, mux)
}

// handle runs one connection to completion: a dedicated scheduler, the
// protocol instance, and a sink that logs every decoded packet. It
// returns when the connection-lost marker arrives.
func (s *server) handle(conn transport.Conn, remote string) {
	sched := scheduler.New()
	done := make(chan struct{})

	sink := func(p *rfb.Protocol, pkt *rfb.Packet) {
		switch pkt.Name {
		case rfb.PacketConnectionLost:
			logrus.WithFields(logrus.Fields{
				"connection_id": p.ID(),
				"remote":        remote,
			}).Info("connection lost")
			close(done)
		case rfb.PacketInvalid:
			logrus.WithFields(logrus.Fields{
				"connection_id": p.ID(),
				"remote":        remote,
				"reason":        pkt.Reason,
			}).Warn("invalid data from peer")
		default:
			logrus.WithFields(logrus.Fields{
				"connection_id": p.ID(),
				"packet":        pkt.Name,
				"fields":        pkt.Fields,
			}).Info("client message")
		}
	}

	proto := rfb.New(sched, conn, sink, s.negotiator,
		rfb.WithMetrics(s.metrics))
	logrus.WithFields(logrus.Fields{
		"connection_id": proto.ID(),
		"remote":        remote,
	}).Info("connection accepted")

	proto.SendProtocolHandshake()
	proto.Start()

	<-done
	sched.Stop()
}
