package razdebug

import (
	"runtime"
	"time"
)

// TraceManager runs a Tracer on a dedicated locked OS thread and collects
// events. Every ptrace call against a tracee must come from the OS thread
// that attached to it, so all access to the inner Tracer goes through
// HandleRequest or the event callback.
type TraceManager struct {
	tracer    *Tracer
	eventFunc func(*Tracer, []*TraceEvent, error)
	requests  chan traceRequest
	pid       int
}

// NewTraceManager attaches to 'pid' and starts the trace loop
func NewTraceManager(pid int, eventFunc func(*Tracer, []*TraceEvent, error)) (*TraceManager, error) {
	mgr := &TraceManager{
		tracer:    nil, // will be set later
		eventFunc: eventFunc,
		requests:  make(chan traceRequest, 1),
		pid:       pid,
	}

	errOut := make(chan error, 1)
	go mgr.run(errOut)

	if err := <-errOut; err != nil {
		return nil, Error(err)
	}

	return mgr, nil
}

// Close detaches the tracer from the process and stops the trace loop
func (mgr *TraceManager) Close() error {
	req := func(*Tracer) error {
		err := mgr.tracer.Detach()
		mgr.tracer = nil
		return err
	}

	err := mgr.HandleRequest(req)
	close(mgr.requests)
	mgr.requests = nil
	return Error(err)
}

// Interrupt asks the trace loop to bring the tracee to an all-stopped state
// and deliver the resulting events
func (mgr *TraceManager) Interrupt() error {
	return mgr.HandleRequest(func(t *Tracer) error {
		return t.Interrupt()
	})
}

func (mgr *TraceManager) run(errOut chan<- error) {
	runtime.LockOSThread()

	tracer, err := NewTracer(mgr.pid)
	if err != nil {
		errOut <- Error(err)
		return
	}

	mgr.tracer = tracer

	if _, err := tracer.Continue(); err != nil {
		tracer.Detach()
		errOut <- Error(err)
		return
	}

	errOut <- nil // notify NewTraceManager everything is awesome

	for {
		select {
		case req := <-mgr.requests:
			req.err <- Error(req.fn(tracer))

		default:
		}

		if mgr.requests == nil {
			return
		}

		events, err := tracer.WaitForEventsTimeout(100 * time.Millisecond)
		if events == nil && err == nil {
			continue
		}

		alive := mgr.handleThreadEvents(tracer, events)
		mgr.eventFunc(tracer, events, Error(err))

		if err != nil || !alive {
			mgr.tracer = nil
			if err := tracer.Detach(); err != nil {
				log.WithError(err).Warn("detach failed")
			}
			return
		}

		if _, err := tracer.Continue(); err != nil {
			mgr.eventFunc(tracer, nil, Error(err))
			mgr.tracer = nil
			tracer.Detach()
			return
		}
	}
}

// handleThreadEvents keeps the thread table in sync with clone and exit
// events and reports whether the tracee is still alive
func (mgr *TraceManager) handleThreadEvents(tracer *Tracer, events []*TraceEvent) bool {
	alive := true

	for _, evt := range events {
		if evt.NewChild != 0 {
			if _, err := tracer.RegisterThread(evt.NewChild); err != nil {
				log.WithError(err).WithField("tid", evt.NewChild).Warn("registering clone child failed")
			}
		}

		if evt.Exited {
			tracer.UnregisterThread(evt.Tid)
			if evt.Tid == mgr.pid {
				alive = false
			}
		}
	}

	if tracer.threads.Len() == 0 {
		alive = false
	}

	return alive
}

// HandleRequest is a blocking call to the provided function in the tracer's thread
func (mgr *TraceManager) HandleRequest(fn func(*Tracer) error) error {
	if mgr.tracer == nil {
		return Errorf("the inner tracer is already detached")
	}

	req := traceRequest{
		fn:  fn,
		err: make(chan error),
	}

	mgr.requests <- req
	return Error(<-req.err)
}

type traceRequest struct {
	fn  func(*Tracer) error
	err chan error
}
