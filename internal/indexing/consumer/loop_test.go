package consumer

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bookworks/booksearch/pkg/config"
)

// fakeSource feeds a scripted sequence of fetch results and records
// commits and closure.
type fakeSource struct {
	mu       sync.Mutex
	script   []fetchResult
	pos      int
	commits  []kafka.Message
	closed   bool
	closeErr error
}

type fetchResult struct {
	msg kafka.Message
	err error
}

func (f *fakeSource) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if f.pos >= len(f.script) {
		f.mu.Unlock()
		// Script exhausted: block until the poll deadline expires.
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	r := f.script[f.pos]
	f.pos++
	f.mu.Unlock()
	return r.msg, r.err
}

func (f *fakeSource) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, msgs...)
	return nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakeSource) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commits)
}

func (f *fakeSource) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func testConfig() config.ConsumerConfig {
	return config.ConsumerConfig{
		PollTimeout:      20 * time.Millisecond,
		EmptyPollSleep:   5 * time.Millisecond,
		TopicRetryDelay:  10 * time.Millisecond,
		TransientBackoff: 10 * time.Millisecond,
	}
}

// runLoop runs the loop in a goroutine and returns a stop function that
// waits for Run to return.
func runLoop(t *testing.T, l *Loop) func() {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	return func() {
		l.Stop()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("loop did not stop in time")
		}
	}
}

func TestLoopDeliversAndCommitsMessages(t *testing.T) {
	src := &fakeSource{script: []fetchResult{
		{msg: kafka.Message{Key: []byte("1"), Value: []byte(`{"BookId":1}`), Offset: 10}},
		{msg: kafka.Message{Key: []byte("2"), Value: []byte(`{"BookId":2}`), Offset: 11}},
	}}

	var mu sync.Mutex
	var seen []string
	handler := func(ctx context.Context, key, value []byte) error {
		mu.Lock()
		seen = append(seen, string(key))
		mu.Unlock()
		return nil
	}

	l := New(src, handler, testConfig(), nil)
	stop := runLoop(t, l)

	waitFor(t, func() bool { return src.commitCount() == 2 })
	stop()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "1" || seen[1] != "2" {
		t.Errorf("unexpected delivery order: %v", seen)
	}
	if !src.isClosed() {
		t.Error("expected source to be closed on shutdown")
	}
	if l.State() != StateStopped {
		t.Errorf("expected Stopped, got %v", l.State())
	}
}

func TestHandlerFailureLeavesOffsetUncommitted(t *testing.T) {
	src := &fakeSource{script: []fetchResult{
		{msg: kafka.Message{Key: []byte("1"), Value: []byte("x"), Offset: 5}},
		{msg: kafka.Message{Key: []byte("2"), Value: []byte("y"), Offset: 6}},
	}}
	handler := func(ctx context.Context, key, value []byte) error {
		if string(key) == "1" {
			return errors.New("boom")
		}
		return nil
	}

	l := New(src, handler, testConfig(), nil)
	stop := runLoop(t, l)
	waitFor(t, func() bool { return src.commitCount() == 1 })
	stop()

	src.mu.Lock()
	defer src.mu.Unlock()
	if len(src.commits) != 1 || src.commits[0].Offset != 6 {
		t.Errorf("expected only offset 6 committed, got %v", src.commits)
	}
}

func TestLoopSurvivesTransientErrors(t *testing.T) {
	src := &fakeSource{script: []fetchResult{
		{err: errors.New("connection reset")},
		{msg: kafka.Message{Key: []byte("1"), Value: []byte("v"), Offset: 1}},
	}}
	handler := func(ctx context.Context, key, value []byte) error { return nil }

	l := New(src, handler, testConfig(), nil)
	stop := runLoop(t, l)
	waitFor(t, func() bool { return src.commitCount() == 1 })
	stop()
}

func TestLoopBacksOffOnMissingTopic(t *testing.T) {
	src := &fakeSource{script: []fetchResult{
		{err: kafka.UnknownTopicOrPartition},
		{msg: kafka.Message{Key: []byte("1"), Value: []byte("v"), Offset: 1}},
	}}
	handler := func(ctx context.Context, key, value []byte) error { return nil }

	l := New(src, handler, testConfig(), nil)
	stop := runLoop(t, l)
	waitFor(t, func() bool { return src.commitCount() == 1 })
	stop()
}

func TestStopIsIdempotent(t *testing.T) {
	src := &fakeSource{}
	l := New(src, func(ctx context.Context, key, value []byte) error { return nil }, testConfig(), nil)
	stop := runLoop(t, l)
	l.Stop()
	l.Stop()
	stop()
	if !src.isClosed() {
		t.Error("expected source closed after stop")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want errorClass
	}{
		{"unknown topic", kafka.UnknownTopicOrPartition, classTopicMissing},
		{"eof", io.EOF, classEndOfStream},
		{"closed pipe", io.ErrClosedPipe, classEndOfStream},
		{"generic", errors.New("broker down"), classTransient},
		{"other kafka error", kafka.RequestTimedOut, classTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify(tc.err); got != tc.want {
				t.Errorf("classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	if StatePolling.String() != "polling" || StateStopped.String() != "stopped" {
		t.Error("unexpected state names")
	}
	if State(99).String() != "unknown" {
		t.Error("out-of-range state should stringify as unknown")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
