package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const (
	mbapHeaderSize = 7
	maxPDUSize     = 253
)

// Client is a Modbus TCP client. One request is in flight at a time. A
// connection that fails mid-request is dropped and redialed on the next
// request, so a late reply can never be taken for a later one.
type Client struct {
	address       string
	dial          func(ctx context.Context, network, address string) (net.Conn, error)
	conn          net.Conn
	mu            sync.Mutex
	transactionID uint16
	timeout       time.Duration
	connected     bool
	dropped       bool
}

func NewClient(address string, timeout time.Duration) *Client {
	d := &net.Dialer{Timeout: timeout}
	return &Client{
		address: address,
		timeout: timeout,
		dial:    d.DialContext,
	}
}

// Connect opens the TCP connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}
	return c.connect(ctx)
}

func (c *Client) connect(ctx context.Context) error {
	conn, err := c.dial(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	c.conn = conn
	c.connected = true
	c.dropped = false

	return nil
}

// drop closes a connection left in an unknown state. The next request
// redials.
func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.connected = false
	c.dropped = true
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropped = false
	if !c.connected {
		return nil
	}

	err := c.conn.Close()
	c.connected = false
	c.conn = nil

	return err
}

// Connected reports whether the TCP connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SendFrame sends a frame and waits for the matching response. Replies to
// earlier, abandoned requests are discarded.
func (c *Client) SendFrame(ctx context.Context, request *ModbusFrame) (*ModbusFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		if !c.dropped {
			return nil, fmt.Errorf("not connected")
		}
		if err := c.connect(ctx); err != nil {
			return nil, err
		}
	}

	c.transactionID++
	request.TransactionID = c.transactionID

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	if _, err := c.conn.Write(request.Encode()); err != nil {
		c.drop()
		return nil, fmt.Errorf("write failed: %w", err)
	}

	for {
		response, err := c.readFrame()
		if err != nil {
			c.drop()
			return nil, err
		}

		switch {
		case response.TransactionID == request.TransactionID:
			return response, nil
		case isStale(response.TransactionID, request.TransactionID):
			continue
		default:
			c.drop()
			return nil, fmt.Errorf("transaction ID mismatch: expected %d, got %d",
				request.TransactionID, response.TransactionID)
		}
	}
}

// readFrame reads exactly one MBAP framed response.
func (c *Client) readFrame() (*ModbusFrame, error) {
	header := make([]byte, mbapHeaderSize, mbapHeaderSize+maxPDUSize)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}

	// Length counts the unit ID already held in the header.
	length := int(binary.BigEndian.Uint16(header[4:6]))
	if length < 2 || length > maxPDUSize+1 {
		return nil, fmt.Errorf("decode failed: invalid length %d", length)
	}

	frame := header[:mbapHeaderSize+length-1]
	if _, err := io.ReadFull(c.conn, frame[mbapHeaderSize:]); err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}

	response, err := DecodeFrame(frame)
	if err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}
	return response, nil
}

// isStale reports whether got was issued before want, allowing for wraparound.
func isStale(got, want uint16) bool {
	d := int16(want - got)
	return d > 0
}

// ReadHoldingRegisters reads quantity holding registers starting at startAddr.
func (c *Client) ReadHoldingRegisters(ctx context.Context, unitID uint8, startAddr uint16, quantity uint16) ([]uint16, error) {
	request := ReadHoldingRegistersRequest(0, unitID, startAddr, quantity)

	response, err := c.SendFrame(ctx, request)
	if err != nil {
		return nil, err
	}

	registers, err := response.ParseRegisterResponse()
	if err != nil {
		return nil, err
	}
	if len(registers) < int(quantity) {
		return nil, fmt.Errorf("short response: expected %d registers, got %d", quantity, len(registers))
	}
	return registers, nil
}

// WriteMultipleRegisters writes consecutive registers starting at startAddr.
func (c *Client) WriteMultipleRegisters(ctx context.Context, unitID uint8, startAddr uint16, values []uint16) error {
	request := WriteMultipleRegistersRequest(0, unitID, startAddr, values)

	response, err := c.SendFrame(ctx, request)
	if err != nil {
		return err
	}
	return response.Exception()
}
