package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	cal "distributed-calendar"
)

// config centralises this node's environment reads; the core package
// reads only the logging variables (LOG_LEVEL, LOG_FORMAT, LOG_DEST) in
// logging.go (SPEC_FULL §4.9), mirroring
// the teacher's cmd/server/main.go env-var reads but gathered in one
// place instead of scattered inline.
type config struct {
	nodeID        int
	numNodes      int
	httpAddr      string
	gossipAddr    string
	peerAddrs     map[int]string
	snapshotDir   string
	retryInterval time.Duration
}

func loadConfig() config {
	nodeID, _ := strconv.Atoi(strings.TrimSpace(os.Getenv("NODE_ID")))
	numNodes, _ := strconv.Atoi(strings.TrimSpace(os.Getenv("NUM_NODES")))
	if numNodes == 0 {
		numNodes = 1
	}

	httpAddr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	gossipAddr := strings.TrimSpace(os.Getenv("LISTEN_PORT"))
	if gossipAddr == "" {
		gossipAddr = ":9090"
	} else if !strings.Contains(gossipAddr, ":") {
		gossipAddr = ":" + gossipAddr
	}
	snapshotDir := strings.TrimSpace(os.Getenv("SNAPSHOT_DIR"))
	if snapshotDir == "" {
		snapshotDir = "./data"
	}

	retryInterval := cal.DefaultRetryInterval
	if raw := strings.TrimSpace(os.Getenv("RETRY_INTERVAL")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			retryInterval = d
		}
	}

	// PEER_ADDRS: comma-separated "id=host:port" entries for every peer
	// other than this node (§3: "Peer addresses are supplied externally").
	peerAddrs := make(map[int]string)
	if raw := strings.TrimSpace(os.Getenv("PEER_ADDRS")); raw != "" {
		for _, entry := range strings.Split(raw, ",") {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				continue
			}
			id, err := strconv.Atoi(strings.TrimSpace(parts[0]))
			if err != nil {
				continue
			}
			peerAddrs[id] = strings.TrimSpace(parts[1])
		}
	}

	return config{
		nodeID:        nodeID,
		numNodes:      numNodes,
		httpAddr:      httpAddr,
		gossipAddr:    gossipAddr,
		peerAddrs:     peerAddrs,
		snapshotDir:   snapshotDir,
		retryInterval: retryInterval,
	}
}

func main() {
	cfg := loadConfig()
	logger := cal.Logger()

	snap, err := cal.NewSnapshotStore(cfg.snapshotDir, cfg.nodeID)
	if err != nil {
		log.Fatalf("snapshot store init: %v", err)
	}
	defer snap.Close()

	replica, err := cal.NewReplica(cfg.nodeID, cfg.numNodes, snap)
	if err != nil {
		log.Fatalf("replica init: %v", err)
	}

	// §7: a durable-write failure is fail-stop. The replica only ever
	// reports on this channel (it is reached from handler and listener
	// goroutines that must not themselves call os.Exit); main owns the exit.
	failStop := make(chan error, 1)
	replica.SetFailStop(failStop)
	go func() {
		err := <-failStop
		logger.Error("fatal_snapshot_failure", "err", err)
		os.Exit(1)
	}()

	peers := cal.NewPeerStore(cfg.nodeID, cfg.numNodes, cfg.peerAddrs)
	transport := cal.NewTCPTransport(peers)
	delivery := cal.NewDelivery(replica, transport, cfg.retryInterval)
	replica.SetDelivery(delivery)

	wsManager := cal.NewWSManager()
	go wsManager.Run()
	replica.SetWSManager(wsManager)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener, err := cal.NewInboundListener(replica, cfg.gossipAddr)
	if err != nil {
		log.Fatalf("inbound listener init: %v", err)
	}
	go func() {
		if err := listener.Serve(ctx); err != nil {
			logger.Error("inbound_listener_stopped", "err", err)
		}
	}()

	router := cal.NewRouter(replica, wsManager)
	server := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("node_starting", "node_id", cfg.nodeID, "num_nodes", cfg.numNodes,
		"http_addr", cfg.httpAddr, "gossip_addr", cfg.gossipAddr)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
