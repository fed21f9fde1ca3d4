package models

import (
	"errors"
	"testing"
	"time"
)

func TestReplyFirstResolutionWins(t *testing.T) {
	req := NewRoutedRequest("r1", nil, nil)
	req.Reply(&Response{Status: 200})
	req.Fail(errors.New("too late"))

	d := <-req.Disposition()
	if d.Err != nil || d.Resp.Status != 200 {
		t.Fatalf("later Fail overwrote the reply: %+v", d)
	}

	select {
	case <-req.Disposition():
		t.Fatal("disposition delivered twice")
	default:
	}
}

func TestFailResolves(t *testing.T) {
	req := NewRoutedRequest("r1", nil, nil)
	boom := errors.New("boom")
	req.Fail(boom)

	d := <-req.Disposition()
	if d.Err != boom || d.Resp != nil {
		t.Fatalf("got %+v", d)
	}
}

func TestObserveRunsOnceOnResolution(t *testing.T) {
	req := NewRoutedRequest("r1", nil, nil)
	calls := 0
	req.Observe(func(d Disposition) { calls++ })

	req.Reply(&Response{Status: 200})
	req.Reply(&Response{Status: 500})
	req.Fail(errors.New("nope"))

	if calls != 1 {
		t.Fatalf("observer ran %d times", calls)
	}
}

func TestResolvedCloses(t *testing.T) {
	req := NewRoutedRequest("r1", nil, nil)

	select {
	case <-req.Resolved():
		t.Fatal("resolved before resolution")
	default:
	}

	go req.Reply(&Response{Status: 200})

	select {
	case <-req.Resolved():
	case <-time.After(time.Second):
		t.Fatal("resolved never closed")
	}
}
