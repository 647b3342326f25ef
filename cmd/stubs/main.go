package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/marketdeck/marketdata/internal/stubs"
)

func main() {
	var (
		addr          = flag.String("addr", ":8091", "listen address")
		latencyMs     = flag.Int("latency-ms", 0, "added response latency")
		failureRate   = flag.Float64("failure-rate", 0, "probability of a 500 per request")
		throttleAfter = flag.Int64("throttle-after", 0, "force rate-limit responses after N requests (0 = never)")
		throttleNote  = flag.Bool("throttle-note", false, "throttle with a 200 note payload instead of 429")
	)
	flag.Parse()

	server := stubs.NewAPIServer()
	server.SetLatency(time.Duration(*latencyMs) * time.Millisecond)
	server.SetFailureRate(*failureRate)
	if *throttleAfter > 0 {
		server.ThrottleAfter(*throttleAfter, *throttleNote)
	}

	log.Printf("stub market-data API listening on %s (latency=%dms failure=%.2f throttle-after=%d)",
		*addr, *latencyMs, *failureRate, *throttleAfter)
	log.Fatal(http.ListenAndServe(*addr, server.Handler()))
}
