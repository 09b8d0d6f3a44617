package correlator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndComplete(t *testing.T) {
	c := New()
	id, resultCh := c.Issue(time.Second)
	require.NotEmpty(t, id)

	status := 200
	c.Complete(id, Result{Status: status})

	select {
	case res := <-resultCh:
		assert.Equal(t, 200, res.Status)
		assert.NoError(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestComplete_SecondCallIsNoOp(t *testing.T) {
	c := New()
	id, resultCh := c.Issue(time.Second)

	c.Complete(id, Result{Status: 200})
	c.Complete(id, Result{Status: 500}) // must not panic or re-send

	res := <-resultCh
	assert.Equal(t, 200, res.Status)

	select {
	case _, ok := <-resultCh:
		assert.False(t, ok, "channel should not receive a second value")
	case <-time.After(50 * time.Millisecond):
		// no second value delivered, as expected
	}
}

func TestComplete_UnknownID_NoOp(t *testing.T) {
	c := New()
	assert.NotPanics(t, func() {
		c.Complete("does-not-exist", Result{Status: 200})
	})
}

func TestIssue_TimesOut(t *testing.T) {
	c := New()
	_, resultCh := c.Issue(20 * time.Millisecond)

	select {
	case res := <-resultCh:
		require.Error(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("expected timeout result")
	}
}

func TestIssue_CompleteBeforeTimeout_SuppressesTimeout(t *testing.T) {
	c := New()
	id, resultCh := c.Issue(30 * time.Millisecond)

	c.Complete(id, Result{Status: 201})
	res := <-resultCh
	assert.Equal(t, 201, res.Status)

	time.Sleep(60 * time.Millisecond)
	select {
	case _, ok := <-resultCh:
		assert.False(t, ok)
	default:
	}
}

func TestFailAllForSlave(t *testing.T) {
	c := New()
	id1, ch1 := c.Issue(time.Second)
	id2, ch2 := c.Issue(time.Second)

	c.FailAllForSlave([]string{id1, id2}, errors.New("slave disconnected"))

	res1 := <-ch1
	res2 := <-ch2
	assert.ErrorContains(t, res1.Err, "slave disconnected")
	assert.ErrorContains(t, res2.Err, "slave disconnected")
}
