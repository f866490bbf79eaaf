package capture

import (
	"sync"
	"testing"
	"time"
)

func TestReadGateShutWaitsForReader(t *testing.T) {
	t.Parallel()

	g := newReadGate()
	if !g.enter() {
		t.Fatal("enter refused on an open gate")
	}

	interrupted := make(chan struct{})
	shutDone := make(chan struct{})
	go func() {
		g.shut(func() { close(interrupted) })
		close(shutDone)
	}()

	// The interrupt fires while the reader is still inside; shut must not
	// return until the reader has left.
	<-interrupted
	select {
	case <-shutDone:
		t.Fatal("shut returned while a reader was still inside")
	case <-time.After(50 * time.Millisecond):
	}

	g.leave()
	select {
	case <-shutDone:
	case <-time.After(2 * time.Second):
		t.Fatal("shut never returned after the reader left")
	}

	if g.enter() {
		t.Error("enter succeeded on a shut gate")
	}
}

func TestReadGateShutRacesReaders(t *testing.T) {
	t.Parallel()

	g := newReadGate()
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for g.enter() {
				g.leave()
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	g.shut(func() {})
	wg.Wait()
}
