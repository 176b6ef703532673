package transport

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"pdu-bridge/internal/domain"
	"pdu-bridge/internal/logging"
)

// SerialConfig carries the console connection parameters.
type SerialConfig struct {
	Port     string
	BaudRate int
	User     string
	Password string
	Timeout  time.Duration
}

// promptSuffix is the fixed CyberPower console prompt terminator this
// transport waits for after login and after every command.
const promptSuffix = "> "

// SerialTransport maintains one exclusive console session with a PDU.
// All operations — polls, outlet commands, management ops — serialize
// through cmdMu: a single command gate so the console session never
// sees interleaved writes.
type SerialTransport struct {
	cfg SerialConfig
	log logging.Logger

	cmdMu sync.Mutex
	port  serial.Port
	r     *bufio.Reader

	loggedIn bool
}

// NewSerialTransport builds a transport that opens the port lazily.
func NewSerialTransport(cfg SerialConfig, log logging.Logger) *SerialTransport {
	return &SerialTransport{cfg: cfg, log: log}
}

func (t *SerialTransport) open() error {
	if t.port != nil {
		return nil
	}
	mode := &serial.Mode{BaudRate: t.cfg.BaudRate}
	p, err := serial.Open(t.cfg.Port, mode)
	if err != nil {
		return &Error{Kind: KindUnreachable, Message: "open serial port", Cause: err}
	}
	_ = p.SetReadTimeout(t.cfg.Timeout)
	t.port = p
	t.r = bufio.NewReader(p)
	t.loggedIn = false
	return nil
}

func (t *SerialTransport) Close() error {
	t.cmdMu.Lock()
	defer t.cmdMu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.loggedIn = false
	return err
}

// login authenticates the console session. Space submits credential
// fields on consoles that use it in place of Enter, per the device's
// legacy firmware quirk.
func (t *SerialTransport) login() error {
	if t.loggedIn {
		return nil
	}
	if err := t.writeLine(t.cfg.User); err != nil {
		return err
	}
	if err := t.writeLine(t.cfg.Password); err != nil {
		return err
	}
	if _, err := t.readUntil(promptSuffix); err != nil {
		return &Error{Kind: KindAuthentication, Message: "console login failed", Cause: err}
	}
	t.loggedIn = true
	return nil
}

func (t *SerialTransport) writeLine(s string) error {
	_, err := t.port.Write([]byte(s + " \r\n"))
	if err != nil {
		return &Error{Kind: KindUnreachable, Message: "serial write", Cause: err}
	}
	return nil
}

// readUntil reads lines until one ends with suffix, returning every
// line read (suffix line included, trimmed).
func (t *SerialTransport) readUntil(suffix string) ([]string, error) {
	var lines []string
	deadline := time.Now().Add(t.cfg.Timeout)
	for time.Now().Before(deadline) {
		line, err := t.r.ReadString('\n')
		if line != "" {
			trimmed := strings.TrimRight(line, "\r\n")
			lines = append(lines, trimmed)
			if strings.HasSuffix(trimmed, strings.TrimSpace(suffix)) {
				return lines, nil
			}
		}
		if err != nil {
			return lines, err
		}
	}
	return lines, &Error{Kind: KindTimeout, Message: "console did not reach expected prompt"}
}

// command sends one line and returns the response lines up to the
// next prompt, serialized against concurrent callers.
func (t *SerialTransport) command(ctx context.Context, cmd string) ([]string, error) {
	t.cmdMu.Lock()
	defer t.cmdMu.Unlock()

	if err := t.open(); err != nil {
		return nil, err
	}
	if err := t.login(); err != nil {
		return nil, err
	}
	if err := t.writeLine(cmd); err != nil {
		return nil, err
	}
	lines, err := t.readUntil(promptSuffix)
	if err != nil {
		t.loggedIn = false
		return nil, err
	}
	return lines, nil
}

// Identify requests the console's "about" screen and parses the
// fixed-format fields CyberPower firmware prints.
func (t *SerialTransport) Identify(ctx context.Context) (domain.Identity, error) {
	lines, err := t.command(ctx, "about")
	if err != nil {
		return domain.Identity{}, err
	}
	id := domain.Identity{}
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "Model:"):
			id.Model = strings.TrimSpace(strings.TrimPrefix(line, "Model:"))
		case strings.HasPrefix(line, "Serial:"):
			id.SerialNumber = strings.TrimSpace(strings.TrimPrefix(line, "Serial:"))
		case strings.HasPrefix(line, "Firmware:"):
			id.FirmwareVersion = strings.TrimSpace(strings.TrimPrefix(line, "Firmware:"))
		case strings.HasPrefix(line, "Outlets:"):
			n, _ := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Outlets:")))
			id.OutletCount = n
		}
	}
	return id, nil
}

// Poll requests the console's status screen. The wire format here is
// a fallback path used only while SNMP is down, so unlike the SNMP
// transport it does not attempt bank/outlet granularity beyond what
// the console prints on one screen.
func (t *SerialTransport) Poll(ctx context.Context) (domain.Snapshot, error) {
	lines, err := t.command(ctx, "status")
	if err != nil {
		return domain.Snapshot{}, err
	}

	snap := domain.Snapshot{}
	bank := domain.Bank{Number: 1}
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "Voltage:":
			bank.Voltage, _ = strconv.ParseFloat(fields[1], 64)
			snap.InputVoltage = bank.Voltage
		case "Current:":
			bank.Current, _ = strconv.ParseFloat(fields[1], 64)
		case "Power:":
			bank.ActivePower, _ = strconv.ParseFloat(fields[1], 64)
		}
	}
	snap.Banks = []domain.Bank{bank}
	return snap, nil
}

// SetOutlet sends the console's outlet control command.
func (t *SerialTransport) SetOutlet(ctx context.Context, outlet int, action domain.OutletAction) error {
	verb, ok := serialActionVerbs[action]
	if !ok {
		return &Error{Kind: KindParse, Message: fmt.Sprintf("unsupported outlet action %q", action)}
	}
	lines, err := t.command(ctx, fmt.Sprintf("olOn %d %s", outlet, verb))
	if err != nil {
		return err
	}
	for _, line := range lines {
		if strings.Contains(strings.ToLower(line), "error") || strings.Contains(strings.ToLower(line), "fail") {
			return &Error{Kind: KindRefused, Message: "console rejected command: " + line}
		}
	}
	return nil
}

var serialActionVerbs = map[domain.OutletAction]string{
	domain.ActionOn:       "on",
	domain.ActionOff:      "off",
	domain.ActionReboot:   "reboot",
	domain.ActionDelayOn:  "delayon",
	domain.ActionDelayOff: "delayoff",
	domain.ActionCancel:   "cancel",
}

// management ops — a narrow subset of the serial console's menu tree,
// exposed through transport.Management. Each issues one command; the
// map-returning getters split the response lines on ':' into a flat
// key/value map, GetEventLog and GetUsers return the raw lines.

func (t *SerialTransport) GetThresholds(ctx context.Context) (map[string]float64, error) {
	lines, err := t.command(ctx, "getThresholds")
	if err != nil {
		return nil, err
	}
	return parseFloatFields(lines), nil
}

func (t *SerialTransport) SetThresholds(ctx context.Context, values map[string]float64) error {
	return t.setKeyValues(ctx, "setThresholds", floatsToStrings(values))
}

func (t *SerialTransport) GetNetwork(ctx context.Context) (map[string]string, error) {
	lines, err := t.command(ctx, "getNetwork")
	if err != nil {
		return nil, err
	}
	return parseStringFields(lines), nil
}

func (t *SerialTransport) SetNetwork(ctx context.Context, values map[string]string) error {
	return t.setKeyValues(ctx, "setNetwork", values)
}

func (t *SerialTransport) GetATSConfig(ctx context.Context) (map[string]string, error) {
	lines, err := t.command(ctx, "getAtsConfig")
	if err != nil {
		return nil, err
	}
	return parseStringFields(lines), nil
}

func (t *SerialTransport) SetATSConfig(ctx context.Context, values map[string]string) error {
	return t.setKeyValues(ctx, "setAtsConfig", values)
}

func (t *SerialTransport) SetOutletConfig(ctx context.Context, outlet int, values map[string]string) error {
	return t.setKeyValues(ctx, fmt.Sprintf("setOutletConfig %d", outlet), values)
}

func (t *SerialTransport) SetDeviceName(ctx context.Context, name string) error {
	_, err := t.command(ctx, "setDeviceName "+name)
	return err
}

func (t *SerialTransport) SetDeviceLocation(ctx context.Context, location string) error {
	_, err := t.command(ctx, "setDeviceLocation "+location)
	return err
}

func (t *SerialTransport) CheckDefaultCredentials(ctx context.Context) (bool, error) {
	lines, err := t.command(ctx, "checkDefaultCreds")
	if err != nil {
		return false, err
	}
	for _, l := range lines {
		if strings.Contains(strings.ToLower(l), "default") {
			return true, nil
		}
	}
	return false, nil
}

func (t *SerialTransport) ChangePassword(ctx context.Context, user, newPassword string) error {
	_, err := t.command(ctx, fmt.Sprintf("changePassword %s %s", user, newPassword))
	return err
}

func (t *SerialTransport) GetEventLog(ctx context.Context) ([]string, error) {
	return t.command(ctx, "getEventLog")
}

func (t *SerialTransport) GetNotifications(ctx context.Context) (map[string]bool, error) {
	lines, err := t.command(ctx, "getNotifications")
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(lines))
	for k, v := range parseStringFields(lines) {
		out[k] = strings.EqualFold(v, "on") || strings.EqualFold(v, "true")
	}
	return out, nil
}

func (t *SerialTransport) SetNotifications(ctx context.Context, values map[string]bool) error {
	strs := make(map[string]string, len(values))
	for k, v := range values {
		if v {
			strs[k] = "on"
		} else {
			strs[k] = "off"
		}
	}
	return t.setKeyValues(ctx, "setNotifications", strs)
}

func (t *SerialTransport) GetEnergyWise(ctx context.Context) (map[string]string, error) {
	lines, err := t.command(ctx, "getEnergyWise")
	if err != nil {
		return nil, err
	}
	return parseStringFields(lines), nil
}

func (t *SerialTransport) SetEnergyWise(ctx context.Context, values map[string]string) error {
	return t.setKeyValues(ctx, "setEnergyWise", values)
}

func (t *SerialTransport) GetUsers(ctx context.Context) ([]string, error) {
	return t.command(ctx, "getUsers")
}

func (t *SerialTransport) setKeyValues(ctx context.Context, cmd string, values map[string]string) error {
	var b strings.Builder
	b.WriteString(cmd)
	for k, v := range values {
		fmt.Fprintf(&b, " %s=%s", k, v)
	}
	_, err := t.command(ctx, b.String())
	return err
}

func parseStringFields(lines []string) map[string]string {
	out := make(map[string]string, len(lines))
	for _, line := range lines {
		if idx := strings.Index(line, ":"); idx > 0 {
			key := strings.TrimSpace(line[:idx])
			val := strings.TrimSpace(line[idx+1:])
			out[key] = val
		}
	}
	return out
}

func parseFloatFields(lines []string) map[string]float64 {
	out := make(map[string]float64)
	for k, v := range parseStringFields(lines) {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
		}
	}
	return out
}

func floatsToStrings(values map[string]float64) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return out
}

var _ Management = (*SerialTransport)(nil)
