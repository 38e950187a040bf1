package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nmoreno/biblioteca/internal/adapter/storage"
	"github.com/nmoreno/biblioteca/internal/core/domain"
	"github.com/nmoreno/biblioteca/internal/core/service"
	"github.com/nmoreno/biblioteca/internal/port"
)

// Hammers the checkout path with concurrent requests against a real Redis
// guard and verifies the two invariants hold: one open loan per book and
// at most five open loans per patron.
const (
	redisAddr      = "localhost:6379"
	totalRequests  = 50
	maxActiveLoans = 5
)

func main() {
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	directory := storage.NewStaticDirectory()
	guard := storage.NewRedisGuard(rdb)

	contestedBook := seedBook(directory, "the-contested-copy")
	patronIDs := make([]string, totalRequests)
	for i := range patronIDs {
		patronIDs[i] = seedPatron(directory, fmt.Sprintf("patron-%d", i))
	}

	svc := service.NewLoanService(
		storage.NewMemoryRepository(), directory, directory, guard,
		port.SystemClock(),
		service.Limits{FinePerDay: 1000, MaxOpenLoans: maxActiveLoans},
		logger,
	)

	dueAt := time.Now().AddDate(0, 0, 14)

	// Round 1: everyone grabs the same book.
	var success, conflict atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Checkout(ctx, patronIDs[i], contestedBook, dueAt, "")
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, domain.ErrBookAlreadyLoaned):
				conflict.Add(1)
			default:
				log.Printf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("========== CHECKOUT RACE RESULTS ==========")
	fmt.Printf("Requests:          %d\n", totalRequests)
	fmt.Printf("Successful:        %d\n", success.Load())
	fmt.Printf("Already loaned:    %d\n", conflict.Load())
	fmt.Printf("Duration:          %v\n", elapsed)
	if success.Load() == 1 && conflict.Load() == int32(totalRequests-1) {
		fmt.Println("PASS: exactly one checkout won the book")
	} else {
		fmt.Println("FAIL: book uniqueness violated")
	}

	// Round 2: one patron grabs many distinct books.
	greedy := seedPatron(directory, "greedy-patron")
	bookIDs := make([]string, totalRequests)
	for i := range bookIDs {
		bookIDs[i] = seedBook(directory, fmt.Sprintf("book-%d", i))
	}

	var taken, limited atomic.Int32
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Checkout(ctx, greedy, bookIDs[i], dueAt, "")
			switch {
			case err == nil:
				taken.Add(1)
			case errors.Is(err, domain.ErrPatronLoanLimit):
				limited.Add(1)
			default:
				log.Printf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	fmt.Println("========== LOAN LIMIT RACE RESULTS ==========")
	fmt.Printf("Requests:          %d\n", totalRequests)
	fmt.Printf("Granted:           %d\n", taken.Load())
	fmt.Printf("Limit rejections:  %d\n", limited.Load())
	if taken.Load() == maxActiveLoans {
		fmt.Printf("PASS: patron capped at %d open loans\n", maxActiveLoans)
	} else {
		fmt.Println("FAIL: loan limit violated")
	}
}

func seedBook(d *storage.StaticDirectory, title string) string {
	id := uuid.NewString()
	d.AddBook(&domain.Book{ID: id, Title: title, Author: "anon", Active: true})
	return id
}

func seedPatron(d *storage.StaticDirectory, username string) string {
	id := uuid.NewString()
	d.AddPatron(&domain.Patron{ID: id, Username: username, Active: true})
	return id
}
