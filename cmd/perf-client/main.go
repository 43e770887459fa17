package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/kkkkikiki/quote-competition/internal/service"
)

// PerfResult gathers aggregated metrics for the test run.
// Atomic counters are used to avoid lock‑contention on hot paths.
// LatencySum & P95Latency are in nanoseconds.
//
// Rejected counts votes refused by the competition rules (already voted,
// rate limited); they are expected once every voter has voted.
type PerfResult struct {
	TotalRequests int64
	SuccessCount  int64
	RejectedCount int64
	ErrorCount    int64
	LatencySum    int64
	P95Latency    int64

	voteDays sync.Map // distinct vote days seen in accepted votes
}

const (
	fixedWorkers   = 50
	fixedRPSTarget = 700
	fixedDuration  = 30 * time.Second
	defaultTimeout = 30 * time.Second
	fixedEntrants  = 20
	fixedVoters    = 5000
	defaultTarget  = "http://localhost:8080"
)

func main() {
	_ = godotenv.Load()

	target := envOr("PERF_TARGET", defaultTarget)
	secret := os.Getenv("COMPETITION_TRIGGER_SECRET")
	rps := fixedRPSTarget
	duration := fixedDuration
	workers := fixedWorkers

	// ─── HTTP Client & Transport ─────────────────────────────────
	transport := &http.Transport{
		MaxIdleConns:        workers * 4,
		MaxIdleConnsPerHost: workers * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   defaultTimeout,
	}
	client := service.NewCompetitionServiceClient(httpClient, target)

	// ─── Window and entries ─────────────────────────────────────
	windowID, err := openWindow(client, secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open window: %v\n", err)
		os.Exit(1)
	}
	entryIDs, err := submitEntries(client, windowID, fixedEntrants)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to submit entries: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ window %s opened with %d entries\n", windowID, len(entryIDs))

	// ─── Banner ──────────────────────────────────────────────────
	fmt.Println("==========================================")
	fmt.Println("🚀 vote flood load test (uniform)")
	fmt.Println("==========================================")
	fmt.Printf("Target   : %s\n", target)
	fmt.Printf("Window   : %s\n", windowID)
	fmt.Printf("Voters   : %d\n", fixedVoters)
	fmt.Printf("RPS      : %d\n", rps)
	fmt.Printf("Duration : %v\n", duration)
	fmt.Println("==========================================")

	// ─── Rate limiter & context ─────────────────────────────────
	burst := rps / workers
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var result PerfResult
	var wg sync.WaitGroup
	var seq atomic.Int64

	// latencyChan collects latencies for P95 estimation.
	latencyChan := make(chan time.Duration, 4096)
	go trackP95(latencyChan, &result)

	// ─── Workers ────────────────────────────────────────────────
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := limiter.Wait(ctx); err != nil { // context cancelled → exit
					return
				}
				voter := fmt.Sprintf("perf-voter-%d", seq.Add(1)%fixedVoters)
				entryID := entryIDs[rand.Intn(len(entryIDs))]
				doVote(client, voter, entryID, &result, latencyChan)
			}
		}()
	}

	start := time.Now()
	<-ctx.Done() // wait for duration

	// ─── Cleanup ────────────────────────────────────────────────
	wg.Wait()
	close(latencyChan)

	totalDur := time.Since(start)

	// ─── Report ─────────────────────────────────────────────────
	fmt.Println("==========================================")
	fmt.Println("📊 results")
	fmt.Println("==========================================")
	fmt.Printf("Elapsed            : %.2fs\n", totalDur.Seconds())
	fmt.Printf("Total requests     : %d\n", result.TotalRequests)
	fmt.Printf("Votes recorded     : %d\n", result.SuccessCount)
	fmt.Printf("Votes refused      : %d\n", result.RejectedCount)
	fmt.Printf("Failed requests    : %d\n", result.ErrorCount)

	handled := result.SuccessCount + result.RejectedCount
	actualRPS := float64(handled) / totalDur.Seconds()

	var avgLatency time.Duration
	if handled > 0 {
		avgLatency = time.Duration(result.LatencySum / handled)
	}

	fmt.Printf("Actual RPS         : %.2f\n", actualRPS)
	fmt.Printf("Average latency    : %v\n", avgLatency)
	fmt.Printf("P95 latency        : %v\n", time.Duration(result.P95Latency))
	fmt.Println("==========================================")

	// ─── Data Consistency Check ─────────────────────────────────
	fmt.Println("==========================================")
	fmt.Println("🔍 consistency check")
	fmt.Println("==========================================")

	if err := verifyDataConsistency(client, windowID, result.SuccessCount, result.days()); err != nil {
		fmt.Printf("❌ consistency check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✅ tallies match recorded votes")
	fmt.Println("==========================================")
}

// openWindow creates a one hour window and makes it the active one.
func openWindow(client service.CompetitionServiceClient, secret string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	now := time.Now().UTC()
	create := connect.NewRequest(&service.CreateWindowRequest{
		Theme:       "Load test",
		Description: "vote flood",
		StartsAt:    now.Add(-time.Minute),
		EndsAt:      now.Add(time.Hour),
	})
	create.Header().Set("Authorization", "Bearer "+secret)

	created, err := client.CreateWindow(ctx, create)
	if err != nil {
		return "", fmt.Errorf("create window failed: %w", err)
	}

	activate := connect.NewRequest(&service.ActivateWindowRequest{WindowID: created.Msg.Window.ID})
	activate.Header().Set("Authorization", "Bearer "+secret)
	if _, err := client.ActivateWindow(ctx, activate); err != nil {
		return "", fmt.Errorf("activate window failed: %w", err)
	}
	return created.Msg.Window.ID, nil
}

// submitEntries submits one entry per entrant and returns their ids.
func submitEntries(client service.CompetitionServiceClient, windowID string, entrants int) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	ids := make([]string, 0, entrants)
	for i := 0; i < entrants; i++ {
		req := connect.NewRequest(&service.SubmitEntryRequest{
			WindowID: windowID,
			Text:     fmt.Sprintf("Load test quote number %d.", i),
		})
		req.Header().Set(service.UserIDHeader, fmt.Sprintf("perf-author-%d", i))

		res, err := client.SubmitEntry(ctx, req)
		if err != nil {
			return nil, err
		}
		ids = append(ids, res.Msg.Entry.ID)
	}
	return ids, nil
}

// doVote performs a single CastVote RPC and collects metrics.
func doVote(client service.CompetitionServiceClient, voterID, entryID string, result *PerfResult, latencyChan chan<- time.Duration) {
	// Use independent context to avoid cancellation when test ends
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	req := connect.NewRequest(&service.CastVoteRequest{EntryID: entryID})
	req.Header().Set(service.UserIDHeader, voterID)

	start := time.Now()
	atomic.AddInt64(&result.TotalRequests, 1)

	res, err := client.CastVote(ctx, req)
	latency := time.Since(start)

	switch {
	case err == nil:
		atomic.AddInt64(&result.SuccessCount, 1)
		result.voteDays.Store(res.Msg.Vote.VoteDay, struct{}{})
	case isRefusal(err):
		atomic.AddInt64(&result.RejectedCount, 1)
	default:
		atomic.AddInt64(&result.ErrorCount, 1)
		return
	}

	atomic.AddInt64(&result.LatencySum, latency.Nanoseconds())
	select {
	case latencyChan <- latency:
	default:
	}
}

func isRefusal(err error) bool {
	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		return false
	}
	switch connectErr.Meta().Get(service.ErrorCodeHeader) {
	case "ALREADY_VOTED", "RATE_LIMITED":
		return true
	}
	return false
}

// trackP95 maintains a best‑effort rolling P95 latency estimation.
func trackP95(latencies <-chan time.Duration, result *PerfResult) {
	const size = 1000
	buf := make([]int64, 0, size)

	for lat := range latencies {
		if len(buf) < size {
			buf = append(buf, lat.Nanoseconds())
		} else {
			// Replace random element (simple reservoir sampling)
			if idx := time.Now().UnixNano() % int64(size); idx < int64(size/10) {
				buf[idx] = lat.Nanoseconds()
			}
		}

		// Update P95 periodically
		if len(buf) >= 100 && len(buf)%100 == 0 {
			copyBuf := make([]int64, len(buf))
			copy(copyBuf, buf)
			quickSort(copyBuf)
			p95Index := int(float64(len(copyBuf)) * 0.95)
			if p95Index >= len(copyBuf) {
				p95Index = len(copyBuf) - 1
			}
			atomic.StoreInt64(&result.P95Latency, copyBuf[p95Index])
		}
	}
}

// quickSort sorts the array in ascending order
func quickSort(arr []int64) {
	if len(arr) < 2 {
		return
	}

	left, right := 0, len(arr)-1
	pivot := len(arr) / 2

	arr[pivot], arr[right] = arr[right], arr[pivot]

	for i := range arr {
		if arr[i] < arr[right] {
			arr[left], arr[i] = arr[i], arr[left]
			left++
		}
	}

	arr[left], arr[right] = arr[right], arr[left]

	quickSort(arr[:left])
	quickSort(arr[left+1:])
}

// verifyDataConsistency checks that the stored tallies add up to the votes
// the server acknowledged and that no voter got more than one vote in.
func verifyDataConsistency(client service.CompetitionServiceClient, windowID string, acknowledged int64, days int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := client.ListEntries(ctx, connect.NewRequest(&service.ListEntriesRequest{WindowID: windowID}))
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}

	var stored int64
	for _, e := range res.Msg.Entries {
		stored += e.Votes
	}

	fmt.Printf("Window             : %s\n", windowID)
	fmt.Printf("Entries            : %d\n", len(res.Msg.Entries))
	fmt.Printf("Votes (stored)     : %d\n", stored)
	fmt.Printf("Votes (client)     : %d\n", acknowledged)
	fmt.Printf("Distinct voters    : %d\n", fixedVoters)
	fmt.Printf("Vote days          : %d\n", days)

	if stored != acknowledged {
		return fmt.Errorf("mismatch: stored=%d, acknowledged=%d, diff=%d",
			stored, acknowledged, stored-acknowledged)
	}

	// one vote per voter per day; a run crossing midnight spans two days
	if limit := fixedVoters * days; stored > limit {
		return fmt.Errorf("double voting: %d votes from %d voters over %d days", stored, fixedVoters, days)
	}

	return nil
}

// days returns the number of distinct vote days among accepted votes.
func (r *PerfResult) days() int64 {
	var n int64
	r.voteDays.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
