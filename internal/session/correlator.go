package session

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/meshportal/backend/internal/driver"
	"github.com/meshportal/backend/internal/errdefs"
)

// SendRequest targets either a contact (by hex public key) or a channel
// index; exactly one must be set.
type SendRequest struct {
	Recipient  string `json:"recipient,omitempty"`
	ChannelIdx *int   `json:"channel_idx,omitempty"`
	Text       string `json:"text"`
	Signed     bool   `json:"signed"`
	Retries    int    `json:"retries"`
}

// SendReceipt is the resolved outcome of one send. ExpectedAck is returned
// in every outcome that produced a transmission, so a caller can correlate a
// later asynchronous ack broadcast with this send.
type SendReceipt struct {
	ExpectedAck string `json:"expected_ack"`
	Attempts    int    `json:"attempts"`
}

// Correlator wraps the send commands that resolve through an asynchronous
// acknowledgement, running the bounded retry loop for direct sends. It holds
// no state of its own beyond the scope of a single call.
type Correlator struct {
	mgr *Manager
}

func NewCorrelator(m *Manager) *Correlator {
	return &Correlator{mgr: m}
}

// Send issues the message and waits for its resolution. Direct sends retry
// on device-side ack timeouts up to max(1, Retries) total attempts; a
// device error is terminal and ends the loop without consuming the budget.
// Channel sends are single-shot and never retried.
//
// On a Timeout outcome the receipt is still returned alongside the error so
// the expected-ack token stays available to the caller.
func (c *Correlator) Send(ctx context.Context, req SendRequest) (*SendReceipt, error) {
	if req.Text == "" {
		return nil, errdefs.InvalidRequest("text required")
	}
	if (req.Recipient == "") == (req.ChannelIdx == nil) {
		return nil, errdefs.InvalidRequest("exactly one of recipient or channel_idx must be set")
	}

	drv, gen, err := c.mgr.driverRef()
	if err != nil {
		return nil, err
	}

	if req.ChannelIdx != nil {
		return c.sendChannel(ctx, drv, gen, req)
	}
	return c.sendDirect(ctx, drv, gen, req)
}

func (c *Correlator) sendChannel(ctx context.Context, drv driver.Driver, gen uint64, req SendRequest) (*SendReceipt, error) {
	idx := *req.ChannelIdx
	if idx < 0 || idx >= channelCount {
		return nil, errdefs.InvalidRequest("channel_idx must be 0..%d", channelCount-1)
	}

	res, err := drv.Commands().SendChannelMessage(ctx, idx, req.Text, deviceNow(), req.Signed)
	if err != nil {
		return nil, errdefs.TransportError("channel send failed", err)
	}
	switch res.Kind {
	case driver.EventError:
		return nil, errdefs.DeviceError(errorCode(res))
	case driver.EventTimeout:
		receipt := receiptFrom(res, 1)
		return receipt, errdefs.Timeout("no ack for channel message")
	}
	receipt := receiptFrom(res, 1)
	c.mgr.recordSend(gen, receipt)
	return receipt, nil
}

func (c *Correlator) sendDirect(ctx context.Context, drv driver.Driver, gen uint64, req SendRequest) (*SendReceipt, error) {
	contact, ok := drv.Contacts()[req.Recipient]
	if !ok {
		return nil, errdefs.NotFound("contact not found")
	}

	attempts := req.Retries
	if attempts < 1 {
		attempts = 1
	}

	var last driver.Result
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := drv.Commands().SendDirectMessage(ctx, contact, req.Text, deviceNow(), req.Signed)
		if err != nil {
			return nil, errdefs.TransportError("send failed", err)
		}

		switch res.Kind {
		case driver.EventError:
			// Terminal: an explicit device error ends the loop and
			// does not count against the attempt budget.
			return nil, errdefs.DeviceError(errorCode(res))

		case driver.EventTimeout:
			last = res
			log.Debug().Int("attempt", attempt).Int("budget", attempts).
				Str("to", contact.Name).Msg("send attempt timed out")
			continue
		}

		receipt := receiptFrom(res, attempt)
		c.mgr.recordSend(gen, receipt)
		return receipt, nil
	}

	// Attempt budget exhausted without any ack.
	return receiptFrom(last, attempts), errdefs.Timeout("no ack after %d attempts", attempts)
}

// receiptFrom extracts the expected-ack token from a send result.
func receiptFrom(res driver.Result, attempts int) *SendReceipt {
	receipt := &SendReceipt{Attempts: attempts}
	if sent, ok := res.Payload.(driver.MsgSent); ok {
		receipt.ExpectedAck = sent.ExpectedAck.String()
	}
	return receipt
}
