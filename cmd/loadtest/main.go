package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	methodPurchase = "Purchase"
	methodHistory  = "History"

	codeTransportError = "transport_error"

	defaultProducts = "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaa1,aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaa2"
)

type loadMode string

const (
	modePurchase        loadMode = "purchase"
	modePurchaseHistory loadMode = "purchase-history"
)

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	products    []string
	quantity    int
	token       string
	outputPath  string
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string
	var timeoutValue string
	var durationValue string
	var productsValue string

	flag.StringVar(&cfg.addr, "addr", "http://localhost:8080", "purchase API base URL")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modePurchase), "load mode: purchase | purchase-history")
	flag.StringVar(&productsValue, "products", defaultProducts, "comma-separated product ids, one item per product")
	flag.IntVar(&cfg.quantity, "quantity", 1, "quantity per item")
	flag.StringVar(&cfg.token, "token", "", "optional bearer token")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	for _, product := range strings.Split(productsValue, ",") {
		if product = strings.TrimSpace(product); product != "" {
			cfg.products = append(cfg.products, product)
		}
	}
	cfg.addr = strings.TrimRight(strings.TrimSpace(cfg.addr), "/")

	if cfg.addr == "" {
		return cfg, errors.New("addr is required")
	}
	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.quantity <= 0 {
		return cfg, errors.New("quantity must be > 0")
	}
	if len(cfg.products) == 0 {
		return cfg, errors.New("at least one product is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modePurchase:
		return modePurchase, nil
	case modePurchaseHistory:
		return modePurchaseHistory, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        cfg.concurrency,
			MaxIdleConnsPerHost: cfg.concurrency,
		},
	}

	result := runLoad(client, cfg, newCollector())

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// runLoad раздаёт сценарии воркерам и возвращает итоговый отчёт.
func runLoad(client *http.Client, cfg config, col *collector) report {
	startedAt := time.Now()
	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				if runErr := runScenario(client, cfg, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}
	return result
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func runScenario(client *http.Client, cfg config, col *collector) (err error) {
	scenarioStart := time.Now()
	defer func() {
		code := codeOK
		if err != nil {
			code = "failed"
		}
		col.record(methodScenario, time.Since(scenarioStart), code, err == nil)
	}()

	if err := callPurchase(client, cfg, col); err != nil {
		return err
	}
	if cfg.mode == modePurchaseHistory {
		return callHistory(client, cfg, col)
	}
	return nil
}

type purchaseItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type purchaseResponse struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
}

func callPurchase(client *http.Client, cfg config, col *collector) error {
	items := make([]purchaseItem, 0, len(cfg.products))
	for _, product := range cfg.products {
		items = append(items, purchaseItem{ProductID: product, Quantity: cfg.quantity})
	}
	body, err := json.Marshal(map[string]any{"items": items})
	if err != nil {
		return err
	}

	respBody, err := doRequest(client, cfg, col, methodPurchase, http.MethodPost, "/api/orders/purchase", body)
	if err != nil {
		return err
	}

	var resp purchaseResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("decode purchase response: %w", err)
	}
	if resp.OrderID == "" {
		return errors.New("purchase response returned empty order id")
	}
	return nil
}

func callHistory(client *http.Client, cfg config, col *collector) error {
	_, err := doRequest(client, cfg, col, methodHistory, http.MethodGet, "/api/orders/history?page=0&size=20", nil)
	return err
}

// doRequest выполняет вызов с таймаутом и учитывает его в collector.
func doRequest(client *http.Client, cfg config, col *collector, method, httpMethod, path string, body []byte) ([]byte, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, cfg.addr+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cfg.token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.token)
	}

	resp, err := client.Do(req)
	if err != nil {
		col.record(method, time.Since(start), codeTransportError, false)
		return nil, err
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300 && readErr == nil
	col.record(method, time.Since(start), strconv.Itoa(resp.StatusCode), ok)
	if readErr != nil {
		return nil, readErr
	}
	if !ok {
		return nil, fmt.Errorf("%s %s: status %d: %s", httpMethod, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
