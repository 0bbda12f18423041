package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
)

// Counters
var (
	totalRequests uint64
	successOK     uint64 // Completed sagas
	accepted202   uint64 // Pending reconciliation
	fail422       uint64 // Declined / insufficient funds
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "Orchestrator base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		sender, recipient := generateUsers()
		key := fmt.Sprintf("bench-%s-%s-%d", sender, recipient, time.Now().UnixNano())

		payload := map[string]interface{}{
			"recipientUserId": recipient,
			"amount":          int64(100),
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/transaction/p2p", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-Id", sender)
		req.Header.Set("Idempotency-Key", key)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 200:
			atomic.AddUint64(&successOK, 1)
		case 202:
			atomic.AddUint64(&accepted202, 1)
		case 422:
			atomic.AddUint64(&fail422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func generateUsers() (string, string) {
	// Assumes wallets seeded for bench-user-1..1000
	totalWallets := 1000

	if workload == "hotspot" {
		// Hotspot: 90% of traffic flows between user 1 and 2
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return "bench-user-1", "bench-user-2"
			}
			return "bench-user-2", "bench-user-1"
		}
	}

	a := rand.Intn(totalWallets) + 1
	b := rand.Intn(totalWallets) + 1
	for a == b {
		b = rand.Intn(totalWallets) + 1
	}
	return fmt.Sprintf("bench-user-%d", a), fmt.Sprintf("bench-user-%d", b)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&successOK)
	acc := atomic.LoadUint64(&accepted202)
	f422 := atomic.LoadUint64(&fail422)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	failRate := float64(f422) / float64(total) * 100

	results := map[string]interface{}{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    tps,
		"success":           ok,
		"pending_reconcile": acc,
		"failed_saga":       f422,
		"failed_saga_pct":   failRate,
		"errors":            fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
