package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

type product struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	InventoryCount int64  `json:"inventory_count"`
}

type purchaseResult struct {
	InventoryCount int64 `json:"inventory_count"`
}

type errorResult struct {
	Error string `json:"error"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "storefront base URL")
	productID := flag.String("product", "00000000-0000-0000-0000-000000000000", "product to drain")
	totalRequests := flag.Int("requests", 0, "concurrent purchases of quantity 1 (default: stock + 30)")
	flag.Parse()

	client := resty.New().
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")

	productURL := *baseURL + "/products/" + *productID

	var initial product
	resp, err := client.R().SetResult(&initial).Get(productURL)
	if err != nil {
		log.Fatalf("failed to fetch product: %v", err)
	}
	if resp.StatusCode() != http.StatusOK {
		log.Fatalf("failed to fetch product: status %d", resp.StatusCode())
	}

	initialStock := initial.InventoryCount
	requests := *totalRequests
	if requests <= 0 {
		requests = int(initialStock) + 30
	}

	var successCount atomic.Int64
	var outOfStockCount atomic.Int64
	var errorCount atomic.Int64

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			var failure errorResult
			resp, err := client.R().
				SetHeader("Idempotency-Key", uuid.NewString()).
				SetBody(map[string]int64{"inventory_count": 1}).
				SetResult(&purchaseResult{}).
				SetError(&failure).
				Post(productURL + "/purchase")

			switch {
			case err != nil:
				errorCount.Add(1)
			case resp.StatusCode() == http.StatusOK:
				successCount.Add(1)
			case resp.StatusCode() == http.StatusBadRequest && failure.Error == "out_of_stock":
				outOfStockCount.Add(1)
			default:
				errorCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	var final product
	if _, err := client.R().SetResult(&final).Get(productURL); err != nil {
		log.Fatalf("failed to fetch final product: %v", err)
	}

	success := successCount.Load()
	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Product:          %s\n", *productID)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", requests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Out of stock:     %d\n", outOfStockCount.Load())
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Printf("Final Stock:      %d\n", final.InventoryCount)
	fmt.Println("==========================================")

	expected := min(initialStock, int64(requests))
	passed := true
	if success != expected {
		fmt.Printf("FAIL: Expected %d successful purchases, got %d\n", expected, success)
		passed = false
	}
	if final.InventoryCount != initialStock-success {
		fmt.Printf("FAIL: Expected final stock %d, got %d\n", initialStock-success, final.InventoryCount)
		passed = false
	}
	if int64(requests) >= initialStock && final.InventoryCount != 0 {
		fmt.Printf("FAIL: Expected stock depleted to 0, got %d\n", final.InventoryCount)
		passed = false
	}

	if !passed {
		os.Exit(1)
	}
	fmt.Println("PASS: Successful purchases match stock and inventory never went negative")
}
