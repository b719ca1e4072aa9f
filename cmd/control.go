// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

const (
	controlRequestTimeout = 5 * time.Second
	streamBatchInterval   = 50 * time.Millisecond
	streamBackoffMin      = 1 * time.Second
	streamBackoffMax      = 30 * time.Second
	streamQueueSize       = 256
)

var controlServer string

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for driving a furrow server",
	Long: `Drive a running furrow server from an interactive terminal UI.

The TUI follows the server's event stream (/ws) and sends commands over the
HTTP API.

Features:
  - Route list with start, stop and emergency stop
  - Live robot state (position, motors, sensors, errors)
  - Fault scenario selection and clearing
  - Validation of the last run
  - Event log
  - Automatic reconnection of the event stream

Tab cycles between the route list, the scenario list and the environment
field. Enter starts the selected route, applies the selected scenario, or
validates the last run from the environment field.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.Flags().StringVar(&controlServer, "server", defaultServerURL, "Server base URL")
}

// streamMessage is one websocket message from the server
type streamMessage struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// streamManager keeps the event stream connected and feeds the TUI
type streamManager struct {
	url  string
	conn *websocket.Conn
	mu   sync.Mutex
	p    *tea.Program
	done chan struct{}
}

func runControl(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient(controlServer, controlRequestTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	sm := &streamManager{
		url:  client.wsURL(),
		done: make(chan struct{}),
	}

	// Create TUI program first so the stream can send to it
	m := initialControlModel(client, controlServer)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	sm.p = p

	// Stream runs in the background and reconnects on its own
	go sm.readerLoop()

	_, err = p.Run()
	sm.shutdown()
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// shutdown stops the reader loop and closes any open stream
func (sm *streamManager) shutdown() {
	close(sm.done)
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.conn != nil {
		sm.conn.Close()
		sm.conn = nil
	}
}

func (sm *streamManager) dial() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(sm.url, nil)
	if err != nil {
		return nil, err
	}

	// The TUI may have quit while we were dialing
	sm.mu.Lock()
	defer sm.mu.Unlock()
	select {
	case <-sm.done:
		conn.Close()
		return nil, errors.New("shutting down")
	default:
	}
	sm.conn = conn
	return conn, nil
}

// readerLoop connects, reads until the stream drops, then reconnects with
// exponential backoff
func (sm *streamManager) readerLoop() {
	backoff := streamBackoffMin
	for {
		select {
		case <-sm.done:
			return
		default:
		}

		conn, err := sm.dial()
		if err != nil {
			sm.p.Send(streamDownMsg{err: err})
			select {
			case <-sm.done:
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, streamBackoffMax)
			continue
		}

		// Connected, reset backoff
		backoff = streamBackoffMin
		sm.p.Send(streamUpMsg{})

		if !sm.readStream(conn) {
			return
		}
		sm.p.Send(streamDownMsg{})
	}
}

// readStream forwards messages in batches until conn fails. It returns false
// when the TUI is shutting down.
func (sm *streamManager) readStream(conn *websocket.Conn) bool {
	queue := make(chan streamMessage, streamQueueSize)
	readerDone := make(chan struct{})

	go func() {
		defer close(readerDone)
		for {
			var msg streamMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			// Drop when the TUI falls behind rather than block the socket
			select {
			case queue <- msg:
			default:
			}
		}
	}()

	ticker := time.NewTicker(streamBatchInterval)
	defer ticker.Stop()

	flush := func() {
		var batch controlBatchMsg
	drain:
		for {
			select {
			case msg := <-queue:
				batch.messages = append(batch.messages, msg)
			default:
				break drain
			}
		}
		if len(batch.messages) > 0 {
			sm.p.Send(batch)
		}
	}

	for {
		select {
		case <-sm.done:
			return false
		case <-readerDone:
			// Deliver what was read before the stream dropped
			flush()
			sm.mu.Lock()
			if sm.conn == conn {
				conn.Close()
				sm.conn = nil
			}
			sm.mu.Unlock()
			select {
			case <-sm.done:
				return false
			default:
				return true
			}
		case <-ticker.C:
			flush()
		}
	}
}
