package chitragupta

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRequestInputResolve(t *testing.T) {
	agent := newTestAgent(t, AgentConfig{})

	requests := make(chan string, 1)
	agent.Events().Subscribe(func(ev Event) {
		if ev.Type == EventAgentInputRequest {
			requests <- ev.Data["requestId"].(string)
		}
	})

	type outcome struct {
		value string
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := agent.RequestInput(context.Background(), "pick one", InputOptions{Choices: []string{"a", "b"}})
		done <- outcome{v, err}
	}()

	requestID := <-requests
	if !agent.ResolveInput(requestID, "a", false, "") {
		t.Fatal("ResolveInput found no waiter")
	}

	got := <-done
	if got.err != nil {
		t.Fatal(got.err)
	}
	if got.value != "a" {
		t.Errorf("value = %q, want a", got.value)
	}
}

func TestRequestInputTimeoutDefault(t *testing.T) {
	agent := newTestAgent(t, AgentConfig{})
	value, err := agent.RequestInput(context.Background(), "pick", InputOptions{
		DefaultValue: "fallback",
		Timeout:      5 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	if value != "fallback" {
		t.Errorf("value = %q, want fallback", value)
	}
}

func TestRequestInputTimeoutNoDefault(t *testing.T) {
	agent := newTestAgent(t, AgentConfig{})
	_, err := agent.RequestInput(context.Background(), "pick", InputOptions{Timeout: 5 * time.Millisecond})
	if !errors.Is(err, ErrInputTimeout) {
		t.Errorf("err = %v, want ErrInputTimeout", err)
	}
}

func TestRequestInputDenied(t *testing.T) {
	agent := newTestAgent(t, AgentConfig{})

	requests := make(chan string, 1)
	agent.Events().Subscribe(func(ev Event) {
		if ev.Type == EventAgentInputRequest {
			requests <- ev.Data["requestId"].(string)
		}
	})

	done := make(chan error, 1)
	go func() {
		_, err := agent.RequestInput(context.Background(), "pick", InputOptions{})
		done <- err
	}()

	agent.ResolveInput(<-requests, "", true, "")

	if err := <-done; !errors.Is(err, ErrInputDenied) {
		t.Errorf("err = %v, want ErrInputDenied", err)
	}
}

func TestAbortRejectsPendingInputs(t *testing.T) {
	agent := newTestAgent(t, AgentConfig{})

	requested := make(chan struct{})
	agent.Events().Subscribe(func(ev Event) {
		if ev.Type == EventAgentInputRequest {
			close(requested)
		}
	})

	done := make(chan error, 1)
	go func() {
		_, err := agent.RequestInput(context.Background(), "pick", InputOptions{})
		done <- err
	}()

	<-requested
	agent.Abort()

	select {
	case err := <-done:
		if err == nil {
			t.Error("aborted input request should fail")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("abort did not unblock the input waiter")
	}
}

func TestResolveInputUnknownID(t *testing.T) {
	agent := newTestAgent(t, AgentConfig{})
	if agent.ResolveInput("no-such-id", "x", false, "") {
		t.Error("resolving an unknown request must return false")
	}
}
