package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/canopy-network/layercast/cmd/rpc"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// tps polls the rpc of every running process and reports delivery throughput until
// each process has delivered the expected number of messages
//
// usage: tps <expected deliveries per process> <rpc url>...
func main() {
	if len(os.Args) < 3 {
		fmt.Println("usage: tps <expected deliveries per process> <rpc url>...")
		os.Exit(1)
	}
	expected, err := strconv.ParseInt(os.Args[1], 10, 64)
	if err != nil || expected <= 0 {
		fmt.Println("invalid expected deliveries", os.Args[1])
		os.Exit(1)
	}
	clients := make([]*rpc.Client, 0, len(os.Args)-2)
	for _, url := range os.Args[2:] {
		clients = append(clients, rpc.NewClient(url, time.Second))
	}
	p := message.NewPrinter(language.English)
	last, start := make([]int64, len(clients)), time.Now()
	for range time.Tick(time.Second) {
		done := 0
		for i, client := range clients {
			status, e := client.Status()
			if e != nil {
				fmt.Println("RPC ERROR: ", e.Error())
				continue
			}
			_, _ = p.Printf("p%d %s: %d deliveries (%d/s), %d buffered, %d undelivered\n",
				status.ID, status.Layer, status.Deliveries, status.Deliveries-last[i], status.Buffered, status.Undelivered)
			last[i] = status.Deliveries
			if status.Deliveries >= expected {
				done++
			}
		}
		if done == len(clients) {
			var total int64
			for _, d := range last {
				total += d
			}
			elapsed := time.Since(start)
			_, _ = p.Printf("All %d processes done in %s, %d deliveries/s\n", done, elapsed.Round(time.Millisecond), int64(float64(total)/elapsed.Seconds()))
			os.Exit(0)
		}
	}
}
