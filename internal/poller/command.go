package poller

import (
	"context"
	"time"

	"pdu-bridge/internal/domain"
	"pdu-bridge/internal/mqtt"
)

// commandOrigin records who asked for an outlet write, carried through
// to the response record for logging.
type commandOrigin string

const (
	originMQTT       commandOrigin = "mqtt"
	originHTTP       commandOrigin = "http"
	originAutomation commandOrigin = "automation"
)

// command is one entry in a device's single write FIFO. Outlet writes
// from MQTT, HTTP, and the automation engine all funnel through the
// same queue so no poll cycle ever races a write against the
// transport.
type command struct {
	outlet   int
	action   domain.OutletAction
	origin   commandOrigin
	rule     string // set when origin is automation
	response chan commandResult
}

// commandResult is returned to the submitter and also published to
// the outlet's command/response topic.
type commandResult struct {
	Success bool
	Error   string
	Ts      time.Time
}

// SubmitCommand enqueues one outlet write from the HTTP facade and
// blocks for the result, matching the synchronous "200 with {ok:true}"
// contract of the outlet command endpoint.
func (p *Poller) SubmitCommand(outlet int, action domain.OutletAction) commandResult {
	return p.submit(command{outlet: outlet, action: action, origin: originHTTP})
}

// SubmitMQTTCommand is the MQTT dispatch path; behaves identically to
// SubmitCommand but tags the response for logging.
func (p *Poller) SubmitMQTTCommand(outlet int, action domain.OutletAction) commandResult {
	return p.submit(command{outlet: outlet, action: action, origin: originMQTT})
}

// EnqueueMQTTCommand enqueues an outlet write from an MQTT subscribe
// callback without blocking it for the result; the outcome still
// reaches the caller via the outlet's command/response topic.
func (p *Poller) EnqueueMQTTCommand(outlet int, action domain.OutletAction) {
	p.enqueueCommand(command{outlet: outlet, action: action, origin: originMQTT})
}

func (p *Poller) enqueueCommand(cmd command) {
	select {
	case p.cmdCh <- cmd:
	case <-p.stopCh:
	}
}

func (p *Poller) submit(cmd command) commandResult {
	cmd.response = make(chan commandResult, 1)
	select {
	case p.cmdCh <- cmd:
	case <-p.stopCh:
		return commandResult{Success: false, Error: "poller stopped", Ts: time.Now()}
	}
	select {
	case res := <-cmd.response:
		return res
	case <-p.stopCh:
		return commandResult{Success: false, Error: "cancelled", Ts: time.Now()}
	}
}

func (p *Poller) commandWorker(ctx context.Context) {
	for {
		select {
		case <-p.stopCh:
			p.drainCancelled()
			return
		case <-ctx.Done():
			p.drainCancelled()
			return
		case cmd := <-p.cmdCh:
			p.processCommand(ctx, cmd)
		}
	}
}

func (p *Poller) drainCancelled() {
	for {
		select {
		case cmd := <-p.cmdCh:
			p.respond(cmd, commandResult{Success: false, Error: "cancelled", Ts: time.Now()})
		default:
			return
		}
	}
}

func (p *Poller) processCommand(parent context.Context, cmd command) {
	ctx, cancel := context.WithTimeout(parent, p.cfg.TransportTimeout)
	defer cancel()

	p.transportMu.Lock()
	err := p.active.SetOutlet(ctx, cmd.outlet, cmd.action)
	p.transportMu.Unlock()

	res := commandResult{Success: err == nil, Ts: time.Now()}
	if err != nil {
		res.Error = err.Error()
		p.log.Warn().Int("outlet", cmd.outlet).Str("action", string(cmd.action)).Err(err).Msg("outlet command failed")
	}

	if p.publisher != nil {
		p.publisher.PublishCommandResponse(p.cfg.DeviceID, mqttResponseFrom(cmd, res))
		if err == nil && (cmd.action == domain.ActionOn || cmd.action == domain.ActionOff) {
			state := domain.OutletOn
			if cmd.action == domain.ActionOff {
				state = domain.OutletOff
			}
			p.publisher.PublishOutletState(p.cfg.DeviceID, cmd.outlet, state)
		}
	}

	p.respond(cmd, res)
}

func (p *Poller) respond(cmd command, res commandResult) {
	if cmd.response != nil {
		cmd.response <- res
	}
}

func mqttResponseFrom(cmd command, res commandResult) mqtt.CommandResponse {
	return mqtt.CommandResponse{
		Success: res.Success,
		Command: string(cmd.action),
		Outlet:  cmd.outlet,
		Error:   res.Error,
		Ts:      res.Ts,
	}
}
