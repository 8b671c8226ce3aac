// Command relaydemo stands up one peer of a packetcomms connection over a
// real TCP listener, bridging every packet it demuxes onto NATS, tracking
// connection liveness in Redis, and exposing a tiny gin HTTP surface for
// health and stats plus a websocket tail of live traffic.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/mpups/packetcomms/internal/config"
	"github.com/mpups/packetcomms/internal/demux"
	"github.com/mpups/packetcomms/internal/logging"
	"github.com/mpups/packetcomms/internal/mux"
	"github.com/mpups/packetcomms/internal/natsbridge"
	"github.com/mpups/packetcomms/internal/protocol"
	"github.com/mpups/packetcomms/internal/session"
	"github.com/mpups/packetcomms/internal/transport"
	"github.com/mpups/packetcomms/internal/wsfanout"
)

// packetTypes is the fixed, ordered application packet type list every
// peer of this demo agrees on without negotiation.
var packetTypes = []string{"telemetry", "command"}

// closer is the shape of every resource wired to a connection that needs
// tearing down alongside it: subscription handles and NATS subscriptions.
type closer interface {
	Close() error
}

// connection bundles one accepted TCP connection's mux/demux pair and the
// resources wired to it.
type connection struct {
	id      string
	muxer   *mux.Muxer
	demuxer *demux.Demuxer
	handles []closer
}

func (c *connection) close() {
	for _, h := range c.handles {
		h.Close()
	}
	c.muxer.Close()
	c.demuxer.Close()
}

func main() {
	log.Println("[relaydemo] starting packetcomms relay demo...")

	cfg := config.Load()
	log.Printf("[relaydemo] configuration loaded: gateway=%s listen=%s", cfg.GatewayID, cfg.ListenAddr)

	registry, err := protocol.NewIdRegistry(packetTypes)
	if err != nil {
		log.Fatalf("[relaydemo] failed to build packet type registry: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL, DB: 0})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("[relaydemo] failed to connect to redis: %v", err)
	}
	cancel()
	log.Println("[relaydemo] connected to redis")
	defer redisClient.Close()

	natsConn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatalf("[relaydemo] failed to connect to nats: %v", err)
	}
	log.Println("[relaydemo] connected to nats")
	defer natsConn.Close()

	sessions := session.NewRegistry(redisClient, 0)
	wsHub := wsfanout.NewHub(logging.New("wsfanout"))
	wsStop := make(chan struct{})
	go wsHub.Run(wsStop)
	defer close(wsStop)

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("[relaydemo] failed to listen on %s: %v", cfg.ListenAddr, err)
	}
	defer listener.Close()
	log.Printf("[relaydemo] listening on %s", cfg.ListenAddr)

	var (
		connsMu sync.Mutex
		conns   = make(map[string]*connection)
	)

	go acceptLoop(listener, cfg, registry, natsConn, sessions, wsHub, &connsMu, conns)

	startHTTPServer(cfg, &connsMu, conns, wsHub)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[relaydemo] shutting down...")

	connsMu.Lock()
	for _, c := range conns {
		c.close()
	}
	connsMu.Unlock()
}

func acceptLoop(
	listener net.Listener,
	cfg *config.Config,
	registry *protocol.IdRegistry,
	natsConn *nats.Conn,
	sessions *session.Registry,
	wsHub *wsfanout.Hub,
	connsMu *sync.Mutex,
	conns map[string]*connection,
) {
	connID := 0
	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Printf("[relaydemo] accept error: %v", err)
			return
		}
		connID++
		id := fmt.Sprintf("%s-%d", cfg.GatewayID, connID)
		go handleConnection(id, conn, cfg, registry, natsConn, sessions, wsHub, connsMu, conns)
	}
}

func handleConnection(
	id string,
	netConn net.Conn,
	cfg *config.Config,
	registry *protocol.IdRegistry,
	natsConn *nats.Conn,
	sessions *session.Registry,
	wsHub *wsfanout.Hub,
	connsMu *sync.Mutex,
	conns map[string]*connection,
) {
	log.Printf("[relaydemo] new connection %s from %s", id, netConn.RemoteAddr())

	t := transport.NewTCP(netConn)
	muxLogger := logging.New(fmt.Sprintf("mux:%s", id))
	demuxLogger := logging.New(fmt.Sprintf("demux:%s", id))

	ctx := context.Background()
	onControl := func(msg protocol.ControlMessage) {
		if msg == protocol.HeartBeat {
			if err := sessions.Touch(ctx, id); err != nil {
				demuxLogger.Printf("session touch failed: %v", err)
			}
		}
	}

	mx := mux.New(t, registry, mux.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		Logger:            muxLogger,
	})
	dmx := demux.New(t, registry, demux.Options{
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		HelloTimeout:    cfg.HelloTimeout,
		Logger:          demuxLogger,
		OnControl:       onControl,
	})

	c := &connection{id: id, muxer: mx, demuxer: dmx}

	if handles, err := natsbridge.Out(natsConn, fmt.Sprintf("packetcomms.uplink.%s", id), dmx, registry, demuxLogger); err != nil {
		demuxLogger.Printf("nats bridge-out failed: %v", err)
	} else {
		for _, h := range handles {
			c.handles = append(c.handles, h)
		}
	}

	if sub, err := natsbridge.In(natsConn, fmt.Sprintf("packetcomms.downlink.%s", id), mx, "command", muxLogger); err != nil {
		muxLogger.Printf("nats bridge-in failed: %v", err)
	} else {
		c.handles = append(c.handles, subscriptionCloser{sub})
	}

	if err := wsHub.Attach(dmx, packetTypes...); err != nil {
		demuxLogger.Printf("websocket fanout attach failed: %v", err)
	}

	if err := sessions.Touch(ctx, id); err != nil {
		demuxLogger.Printf("session touch failed: %v", err)
	}

	connsMu.Lock()
	conns[id] = c
	connsMu.Unlock()

	go func() {
		for dmx.Ok() {
			time.Sleep(pollInterval())
		}
		log.Printf("[relaydemo] connection %s failed: %v", id, dmx.Err())
		if err := sessions.Release(ctx, id); err != nil {
			demuxLogger.Printf("session release failed: %v", err)
		}
		connsMu.Lock()
		delete(conns, id)
		connsMu.Unlock()
		c.close()
		netConn.Close()
	}()
}

func pollInterval() time.Duration { return 500 * time.Millisecond }

// subscriptionCloser adapts a *nats.Subscription to the io.Closer-shaped
// handle slice connection.handles is kept as.
type subscriptionCloser struct {
	sub *nats.Subscription
}

func (s subscriptionCloser) Close() error {
	return s.sub.Unsubscribe()
}

func startHTTPServer(cfg *config.Config, connsMu *sync.Mutex, conns map[string]*connection, wsHub *wsfanout.Hub) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "gateway_id": cfg.GatewayID})
	})
	router.GET("/stats", func(c *gin.Context) {
		connsMu.Lock()
		defer connsMu.Unlock()
		stats := make([]gin.H, 0, len(conns))
		for id, conn := range conns {
			stats = append(stats, gin.H{
				"conn_id": id,
				"ok":      conn.muxer.Ok() && conn.demuxer.Ok(),
				"posted":  conn.muxer.PostedCount(),
				"sent":    conn.muxer.SentCount(),
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"connections":       stats,
			"websocket_clients": wsHub.ClientCount(),
		})
	})
	router.GET("/ws", func(c *gin.Context) {
		wsHub.ServeHTTP(c.Writer, c.Request)
	})

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	server := &http.Server{Addr: addr, Handler: router}
	go func() {
		log.Printf("[relaydemo] http server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[relaydemo] http server error: %v", err)
		}
	}()
}
