package reachability

import (
	"context"
	"log"
	"net"
	"os"
	"sync"
	"testing"
	"time"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[test] ", log.LstdFlags)
}

func TestMonitorReachableEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	m := NewMonitor(Config{
		Address:  ln.Addr().String(),
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
		Logger:   testLogger(),
	})
	m.Start(context.Background())
	defer m.Stop()

	time.Sleep(50 * time.Millisecond)
	if !m.IsReachable() {
		t.Error("local listener should be reachable")
	}
}

func TestMonitorDetectsLoss(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := ln.Addr().String()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	var mu sync.Mutex
	var changes []bool
	m := NewMonitor(Config{
		Address:  addr,
		Interval: 10 * time.Millisecond,
		Timeout:  100 * time.Millisecond,
		Logger:   testLogger(),
	})
	m.OnChange(func(reachable bool) {
		mu.Lock()
		changes = append(changes, reachable)
		mu.Unlock()
	})
	m.Start(context.Background())
	defer m.Stop()

	time.Sleep(50 * time.Millisecond)
	ln.Close()

	deadline := time.After(2 * time.Second)
	for m.IsReachable() {
		select {
		case <-deadline:
			t.Fatal("monitor never noticed the closed listener")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) == 0 || changes[len(changes)-1] != false {
		t.Errorf("changes = %v, want trailing false", changes)
	}
}

func TestMonitorStopIsIdempotentWithCancel(t *testing.T) {
	m := NewMonitor(Config{
		Address:  "127.0.0.1:1", // nothing listens here
		Interval: 10 * time.Millisecond,
		Timeout:  50 * time.Millisecond,
		Logger:   testLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()
	m.Stop()
}
