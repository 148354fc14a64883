package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/dbac/electorate/internal/cluster"
	"github.com/dbac/electorate/internal/config"
	"github.com/dbac/electorate/internal/driver"
	"github.com/dbac/electorate/internal/elog"
	"github.com/dbac/electorate/internal/metrics"
	"github.com/dbac/electorate/internal/transport"
)

func main() {
	configPath := os.Getenv("ELECTORATE_CONFIG")
	if configPath == "" {
		configPath = "./config.json"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		elog.Default().WithError(err).Fatal("electiond: failed to load config")
	}
	if cfg.ID == "" {
		elog.Default().Fatal("electiond: id not set (config file or ELECTORATE_ID)")
	}

	log := elog.With(elog.Fields{"id": cfg.ID, "topic": cfg.Topic})

	reg := cluster.NewRegistry()
	for _, m := range cfg.Members {
		reg.Join(cluster.Member{ID: m.ID, Address: m.Address})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := transport.NewServer(256)
	client := transport.NewClient()
	local := cluster.NewLocal(ctx, cluster.Member{ID: cfg.ID, Address: cfg.Address}, reg, server, client)

	met := metrics.New()
	d := driver.New(cfg.Topic, local, cfg.ElectionConfig(), driver.WithMetrics(met))

	go logEvents(log, d)

	if err := d.Start(ctx); err != nil {
		log.WithError(err).Fatal("electiond: failed to start driver")
	}
	log.Info("electiond: started")

	go serveHTTP(cfg, server, met, d, log)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("electiond: shutting down")
	d.Shutdown()
}

func logEvents(log *logrus.Entry, d *driver.Driver) {
	for ev := range d.Listen() {
		log.Info(fmt.Sprintf("election event %s at term %d", ev.Kind, ev.Term))
	}
}

func serveHTTP(cfg config.Config, server *transport.Server, met *metrics.Metrics, d *driver.Driver, log *logrus.Entry) {
	r := mux.NewRouter()
	r.PathPrefix("/rpc").Handler(server.Handler())
	r.Path("/metrics").Handler(met.Handler())
	r.Path("/status").Methods(http.MethodGet).HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		view := d.LeaderView()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     cfg.ID,
			"role":   d.CurrentRole().String(),
			"leader": view.LeaderID,
			"known":  view.Known,
		})
	})

	addr := cfg.Address
	if err := http.ListenAndServe(trimScheme(addr), r); err != nil {
		log.WithError(err).Error("electiond: http server exited")
	}
}

// trimScheme strips a leading scheme from addr, since ListenAndServe wants
// a bare host:port while the cluster-facing address carries "http://" for
// dialing purposes.
func trimScheme(addr string) string {
	const prefix = "http://"
	if len(addr) > len(prefix) && addr[:len(prefix)] == prefix {
		return addr[len(prefix):]
	}
	return addr
}
