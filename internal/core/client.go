package core

import "sync"

const (
	commandBuffer = 16
	eventBuffer   = 64
)

// Client is one live session as seen by the core layer.
type Client struct {
	ID       string
	Commands chan *Command
	Events   chan *Event

	// joined maps room id to the username the session joined it as. Only
	// the session's hub worker touches it.
	joined map[string]string

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a client with initialized channels.
func NewClient(id string) *Client {
	return &Client{
		ID:       id,
		Commands: make(chan *Command, commandBuffer),
		Events:   make(chan *Event, eventBuffer),
		joined:   make(map[string]string),
		done:     make(chan struct{}),
	}
}

// Done is closed once the client is unregistered.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// deliver queues ev without blocking. Events for a slow consumer are dropped.
func (c *Client) deliver(ev *Event) bool {
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}
