// Command loadtest publishes synthetic book events to Kafka and/or fires
// semantic search queries at the service, reporting latency percentiles.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bookworks/booksearch/internal/indexing"
	"github.com/bookworks/booksearch/pkg/config"
	"github.com/bookworks/booksearch/pkg/kafka"
)

type stats struct {
	total       atomic.Int64
	success     atomic.Int64
	failures    atomic.Int64
	latencies   []time.Duration
	latenciesMu sync.Mutex
}

func (s *stats) record(d time.Duration, ok bool) {
	s.total.Add(1)
	if !ok {
		s.failures.Add(1)
		return
	}
	s.success.Add(1)
	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, d)
	s.latenciesMu.Unlock()
}

func (s *stats) percentile(p float64) time.Duration {
	s.latenciesMu.Lock()
	defer s.latenciesMu.Unlock()
	if len(s.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(s.latencies))
	copy(sorted, s.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

var sampleQueries = []string{
	"space adventure",
	"desert planet saga",
	"detective in victorian london",
	"coming of age in a small town",
	"artificial intelligence gone wrong",
}

func main() {
	brokers := flag.String("brokers", "localhost:9092", "comma-separated kafka brokers")
	topic := flag.String("topic", "book_events", "book events topic")
	events := flag.Int("events", 0, "number of synthetic book events to publish")
	maxBookID := flag.Int64("max-book-id", 1000, "book ids are drawn from [1, max-book-id]")
	serviceURL := flag.String("url", "http://localhost:8000", "base URL of the search service")
	queries := flag.Int("queries", 0, "number of semantic search queries to fire")
	concurrency := flag.Int("concurrency", 8, "concurrent query workers")
	flag.Parse()

	ctx := context.Background()

	if *events > 0 {
		if err := publishEvents(ctx, *brokers, *topic, *events, *maxBookID); err != nil {
			fmt.Fprintf(os.Stderr, "publishing events: %v\n", err)
			os.Exit(1)
		}
	}
	if *queries > 0 {
		runQueries(ctx, *serviceURL, *queries, *concurrency)
	}
}

// publishEvents writes a random mix of created/updated/deleted events,
// keyed by book id so per-book ordering is preserved across partitions.
func publishEvents(ctx context.Context, brokers, topic string, count int, maxBookID int64) error {
	producer := kafka.NewProducer(config.KafkaConfig{
		Brokers: strings.Split(brokers, ","),
	}, topic)
	defer producer.Close()

	eventTypes := []string{indexing.EventCreated, indexing.EventUpdated, indexing.EventDeleted}
	for i := 0; i < count; i++ {
		bookID := rand.Int63n(maxBookID) + 1
		event := indexing.BookEvent{
			BookID:    bookID,
			EventType: eventTypes[rand.Intn(len(eventTypes))],
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		err := producer.Publish(ctx, kafka.Event{
			Key:   strconv.FormatInt(bookID, 10),
			Value: event,
		})
		if err != nil {
			return err
		}
	}
	fmt.Printf("published %d events to %s\n", count, topic)
	return nil
}

func runQueries(ctx context.Context, baseURL string, count, concurrency int) {
	st := &stats{}
	client := &http.Client{Timeout: 10 * time.Second}
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				query := sampleQueries[rand.Intn(len(sampleQueries))]
				body, _ := json.Marshal(map[string]any{"query_text": query, "top_k": 5})
				start := time.Now()
				req, _ := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/search/semantic", bytes.NewReader(body))
				req.Header.Set("Content-Type", "application/json")
				resp, err := client.Do(req)
				if err != nil {
					st.record(0, false)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				st.record(time.Since(start), resp.StatusCode == http.StatusOK)
			}
		}()
	}
	for i := 0; i < count; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	fmt.Printf("queries: %d  ok: %d  failed: %d\n", st.total.Load(), st.success.Load(), st.failures.Load())
	fmt.Printf("p50: %v  p95: %v  p99: %v\n", st.percentile(0.50), st.percentile(0.95), st.percentile(0.99))
}
