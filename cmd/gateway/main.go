// Command gateway runs the federation gateway: it composes a schema from a
// fixed service list, serves queries/mutations over graphql-over-http and
// subscriptions over graphql-transport-ws, and resyncs its composed schema
// on a timer so subgraph deploys pick up without a gateway restart.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/async-graphql/graphgate/federation"
	"github.com/async-graphql/graphgate/logger"
)

func main() {
	addr := flag.String("addr", ":8080", "address to listen on")
	servicesPath := flag.String("services", "", "path to a JSON file listing subgraph services")
	resync := flag.Duration("resync", 30*time.Second, "interval between schema resyncs; 0 disables background resync")
	dev := flag.Bool("dev", false, "use a development (console, debug-level) logger instead of the production JSON logger")
	flag.Parse()

	if *servicesPath == "" {
		log.Fatal("gateway: -services is required")
	}

	log_ := logger.New()
	if *dev {
		log_ = logger.NewDevelopment()
	}

	services, err := loadServiceList(*servicesPath)
	if err != nil {
		log.Fatalf("gateway: loading service list: %v", err)
	}

	ctx := context.Background()
	syncer := federation.NewSchemaSyncer(services, nil)

	initial, err := syncer.Compose(ctx)
	if err != nil {
		log.Fatalf("gateway: composing initial schema: %v", err)
	}
	registry := federation.NewSchemaRegistry(initial)
	log_.Info("composed initial schema", "services", len(services))

	if *resync > 0 {
		go resyncLoop(ctx, syncer, registry, log_, *resync)
	}

	gw := federation.NewGateway(registry, log_)
	http.Handle("/graphql", gw)
	http.HandleFunc("/graphql/ws", gw.ServeWS)

	log_.Info("gateway listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatalf("gateway: %v", err)
	}
}

// resyncLoop recomposes the schema from the live service list every
// interval, swapping it into registry only on success so a subgraph outage
// or bad deploy never tears down an already-working composed schema
// (spec.md §5's hot-reload-without-downtime requirement).
func resyncLoop(ctx context.Context, syncer *federation.SchemaSyncer, registry *federation.SchemaRegistry, log_ logger.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		next, err := syncer.Compose(ctx)
		if err != nil {
			log_.Warn("schema resync failed, keeping previous schema", "error", err)
			continue
		}
		registry.Swap(next)
		log_.Info("schema resync succeeded")
	}
}

// loadServiceList reads a federation.ServiceList from a JSON file, the
// gateway's only source of which subgraphs exist (spec.md §6 "Service list
// input"): the gateway never discovers subgraphs on its own.
func loadServiceList(path string) (federation.ServiceList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var services federation.ServiceList
	if err := json.NewDecoder(f).Decode(&services); err != nil {
		return nil, err
	}
	return services, nil
}
