package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterDiagnostic represents the diagnostic result for a single gate counter
type CounterDiagnostic struct {
	Key      string
	Kind     string // "rpm", "conc", "UNKNOWN"
	Provider string
	Value    string
	TTL      time.Duration
}

func main() {
	addr := os.Getenv("CALLGATE_STORE_ADDR")
	if addr == "" {
		addr = "localhost:6379"
		log.Println("CALLGATE_STORE_ADDR not set, using default localhost:6379")
	}

	prefix := os.Getenv("CALLGATE_KEY_PREFIX")
	if prefix == "" {
		prefix = "callgate"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("CALLGATE_STORE_PASSWORD"),
	})
	defer func() {
		if err := client.Close(); err != nil {
			log.Printf("Failed to close store client: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to ping coordination store at %s: %v", addr, err)
	}
	fmt.Printf("Store: %s (ping %v)\n", addr, time.Since(start).Round(time.Millisecond))
	fmt.Printf("Key prefix: %s\n\n", prefix)

	diagnostics := scanCounters(ctx, client, prefix)
	if len(diagnostics) == 0 {
		fmt.Println("No gate counters found. Either no coordinated limiter is running,")
		fmt.Println("or every counter has aged out (idle gates leave no keys behind).")
		return
	}

	printCounters(diagnostics)
	printSummary(diagnostics)
}

// scanCounters walks all keys under the gate's prefix and reads each
// counter's value and TTL. SCAN is used instead of KEYS so the diagnostic
// never blocks a production store.
func scanCounters(ctx context.Context, client *redis.Client, prefix string) []CounterDiagnostic {
	var diagnostics []CounterDiagnostic

	iter := client.Scan(ctx, 0, prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		value, err := client.Get(ctx, key).Result()
		if err != nil {
			// The key can age out between SCAN and GET; skip it.
			continue
		}

		ttl, err := client.TTL(ctx, key).Result()
		if err != nil {
			ttl = -1
		}

		kind, provider := classifyKey(key, prefix)
		diagnostics = append(diagnostics, CounterDiagnostic{
			Key:      key,
			Kind:     kind,
			Provider: provider,
			Value:    value,
			TTL:      ttl,
		})
	}
	if err := iter.Err(); err != nil {
		log.Fatalf("Failed to scan store keys: %v", err)
	}

	sort.Slice(diagnostics, func(i, j int) bool {
		if diagnostics[i].Provider != diagnostics[j].Provider {
			return diagnostics[i].Provider < diagnostics[j].Provider
		}
		return diagnostics[i].Key < diagnostics[j].Key
	})

	return diagnostics
}

// classifyKey splits a gate key into its counter kind and provider name.
// Key scheme: {prefix}:rpm:{provider}:{unixMinute} and {prefix}:conc:{provider}
func classifyKey(key, prefix string) (kind, provider string) {
	rest := strings.TrimPrefix(key, prefix+":")
	parts := strings.Split(rest, ":")

	switch {
	case len(parts) >= 2 && parts[0] == "rpm":
		return "rpm", parts[1]
	case len(parts) >= 2 && parts[0] == "conc":
		return "conc", parts[1]
	default:
		return "UNKNOWN", rest
	}
}

func printCounters(diagnostics []CounterDiagnostic) {
	fmt.Printf("%-50s %-8s %-12s %-8s %s\n", "KEY", "KIND", "PROVIDER", "VALUE", "TTL")
	fmt.Println(strings.Repeat("-", 90))
	for _, d := range diagnostics {
		ttl := d.TTL.Round(time.Second).String()
		if d.TTL < 0 {
			ttl = "none"
		}
		fmt.Printf("%-50s %-8s %-12s %-8s %s\n", d.Key, d.Kind, d.Provider, d.Value, ttl)
	}
	fmt.Println()
}

// printSummary aggregates counters per provider. A concurrent counter that
// stays high while its minute buckets are empty usually means leaked slots
// from a crashed process still waiting for the TTL to reclaim them.
func printSummary(diagnostics []CounterDiagnostic) {
	type providerSummary struct {
		minuteBuckets int
		concurrent    string
	}

	summaries := make(map[string]*providerSummary)
	for _, d := range diagnostics {
		s, ok := summaries[d.Provider]
		if !ok {
			s = &providerSummary{}
			summaries[d.Provider] = s
		}
		switch d.Kind {
		case "rpm":
			s.minuteBuckets++
		case "conc":
			s.concurrent = d.Value
		}
	}

	names := make([]string, 0, len(summaries))
	for name := range summaries {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Per-provider summary:")
	for _, name := range names {
		s := summaries[name]
		concurrent := s.concurrent
		if concurrent == "" {
			concurrent = "0"
		}
		fmt.Printf("  %-12s live minute buckets: %d, concurrent slots held: %s\n",
			name, s.minuteBuckets, concurrent)
	}
}
