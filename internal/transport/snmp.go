package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"pdu-bridge/internal/decode"
	"pdu-bridge/internal/domain"
	"pdu-bridge/internal/logging"
)

// SNMPConfig carries everything an SNMPTransport needs to reach one
// device, mirroring the relevant fields of domain.DeviceConfig.
type SNMPConfig struct {
	Host           string
	Port           int
	ReadCommunity  string
	WriteCommunity string
	Timeout        time.Duration
	Retries        int
	OutletCount    int
	BankCount      int
	HasATS         bool
	HasEnvironment bool
}

// SNMPTransport polls a CyberPower ePDU over SNMPv2c. One instance is
// owned exclusively by the poller for its device; it is not safe for
// concurrent use by design (the poller never calls it concurrently).
type SNMPTransport struct {
	cfg    SNMPConfig
	log    logging.Logger
	client *gosnmp.GoSNMP
}

// NewSNMPTransport builds a transport that lazily connects on first use.
func NewSNMPTransport(cfg SNMPConfig, log logging.Logger) *SNMPTransport {
	return &SNMPTransport{cfg: cfg, log: log}
}

func (t *SNMPTransport) ensureClient() *gosnmp.GoSNMP {
	if t.client == nil {
		t.client = &gosnmp.GoSNMP{
			Target:    t.cfg.Host,
			Port:      uint16(t.cfg.Port),
			Community: t.cfg.ReadCommunity,
			Version:   gosnmp.Version2c,
			Timeout:   t.cfg.Timeout,
			Retries:   t.cfg.Retries,
		}
	}
	return t.client
}

func (t *SNMPTransport) connect() error {
	c := t.ensureClient()
	if c.Conn != nil {
		return nil
	}
	return c.Connect()
}

func (t *SNMPTransport) Close() error {
	if t.client != nil && t.client.Conn != nil {
		err := t.client.Conn.Close()
		t.client.Conn = nil
		return err
	}
	return nil
}

// classify turns a gosnmp/network error into our typed Error.
func classify(err error) *Error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "i/o timeout"):
		return &Error{Kind: KindTimeout, Message: "snmp timeout", Cause: err}
	case strings.Contains(msg, "connection refused"):
		return &Error{Kind: KindRefused, Message: "snmp connection refused", Cause: err}
	case strings.Contains(msg, "no route to host") || strings.Contains(msg, "network is unreachable"):
		return &Error{Kind: KindUnreachable, Message: "snmp unreachable", Cause: err}
	default:
		return &Error{Kind: KindUnknown, Message: "snmp error", Cause: err}
	}
}

// Identify reads the standard MIB-II and ePDU identity OIDs.
func (t *SNMPTransport) Identify(ctx context.Context) (domain.Identity, error) {
	if err := t.connect(); err != nil {
		return domain.Identity{}, classify(err)
	}

	oids := []string{oidSysDescr, oidModel, oidSerial, oidFirmware, oidOutletCount, oidPhaseCount}
	result, err := t.client.Get(oids)
	if err != nil {
		t.Close()
		return domain.Identity{}, classify(err)
	}

	vals := valuesByOID(result.Variables)
	id := domain.Identity{
		Model:           stringOf(vals[normalizeOID(oidModel)]),
		SerialNumber:    stringOf(vals[normalizeOID(oidSerial)]),
		FirmwareVersion: stringOf(vals[normalizeOID(oidFirmware)]),
		OutletCount:     int(intOf(vals[normalizeOID(oidOutletCount)])),
		PhaseCount:      int(intOf(vals[normalizeOID(oidPhaseCount)])),
	}
	return id, nil
}

// Poll reads one cycle's worth of OIDs in batches and decodes them.
// Budget is enforced by ctx's deadline; gosnmp itself is given the
// configured per-request timeout, which must be smaller than the
// cycle interval so a single slow OID cannot blow the whole budget.
func (t *SNMPTransport) Poll(ctx context.Context) (domain.Snapshot, error) {
	if err := t.connect(); err != nil {
		return domain.Snapshot{}, classify(err)
	}

	oids := t.pollOIDs()
	vals, err := t.getBatched(oids)
	if err != nil {
		return domain.Snapshot{}, err
	}

	raw := t.buildRaw(vals)
	return decode.BuildSnapshot(raw, nil), nil
}

// getBatched issues GETs in batches of 10 (a v2c device handles this
// fine, and ePDU2 firmware supports GETBULK-sized requests reliably).
func (t *SNMPTransport) getBatched(oids []string) (map[string]gosnmp.SnmpPDU, error) {
	const batchSize = 10
	vals := make(map[string]gosnmp.SnmpPDU, len(oids))

	for i := 0; i < len(oids); i += batchSize {
		end := i + batchSize
		if end > len(oids) {
			end = len(oids)
		}
		result, err := t.client.Get(oids[i:end])
		if err != nil {
			t.Close()
			return nil, classify(err)
		}
		for _, v := range result.Variables {
			if v.Type == gosnmp.NoSuchInstance || v.Type == gosnmp.NoSuchObject || v.Type == gosnmp.Null {
				continue
			}
			vals[normalizeOID(v.Name)] = v
		}
	}
	return vals, nil
}

func (t *SNMPTransport) pollOIDs() []string {
	oids := []string{oidSysUpTime, oidInputVoltage, oidInputFrequency, oidColdStartDelay, oidColdStartState}

	bankCount := t.cfg.BankCount
	if bankCount < 1 {
		bankCount = 1
	}
	for b := 1; b <= bankCount; b++ {
		idx := "." + strconv.Itoa(b)
		oids = append(oids,
			oidBankCurrent+idx, oidBankPower+idx, oidBankApparent+idx,
			oidBankPF+idx, oidBankLoadState+idx, oidInputVoltage+idx)
	}

	for o := 1; o <= t.cfg.OutletCount; o++ {
		idx := "." + strconv.Itoa(o)
		oids = append(oids, oidOutletStatus+idx, oidOutletCurrent+idx, oidOutletPower+idx,
			oidOutletEnergy+idx, oidOutletName+idx)
	}

	if t.cfg.HasATS {
		oids = append(oids,
			oidATSPreferredSource, oidATSCurrentSource, oidATSAutoTransfer, oidATSRedundancy,
			oidATSVoltageA, oidATSFrequencyA, oidATSVoltageB, oidATSFrequencyB,
			oidATSVoltageStatusA, oidATSVoltageStatusB)
	}

	if t.cfg.HasEnvironment {
		oids = append(oids, oidEnvTemperature, oidEnvHumidity)
	}

	return oids
}

func (t *SNMPTransport) buildRaw(vals map[string]gosnmp.SnmpPDU) decode.Raw {
	raw := decode.Raw{
		InputVoltageRaw:   intOf(vals[normalizeOID(oidInputVoltage)]),
		InputFrequencyRaw: intOf(vals[normalizeOID(oidInputFrequency)]),
		ColdStartDelay:    int(intOf(vals[normalizeOID(oidColdStartDelay)])),
		ColdStartState:    stringOf(vals[normalizeOID(oidColdStartState)]),
		UptimeTicks:       uint32(intOf(vals[normalizeOID(oidSysUpTime)])),
	}

	bankCount := t.cfg.BankCount
	if bankCount < 1 {
		bankCount = 1
	}
	for b := 1; b <= bankCount; b++ {
		idx := "." + strconv.Itoa(b)
		rb := decode.RawBank{
			Number:         b,
			VoltageRaw:     intOf(vals[normalizeOID(oidInputVoltage+idx)]),
			CurrentRaw:     intOf(vals[normalizeOID(oidBankCurrent+idx)]),
			PowerRaw:       intOf(vals[normalizeOID(oidBankPower+idx)]),
			ApparentRaw:    intOf(vals[normalizeOID(oidBankApparent+idx)]),
			PowerFactorRaw: intOf(vals[normalizeOID(oidBankPF+idx)]),
			LoadState:      decode.LoadStateFromRaw(intOf(vals[normalizeOID(oidBankLoadState+idx)])),
		}
		// Bank energy is not exposed by every ePDU2 firmware revision;
		// left unset (EnergyRaw nil) rather than guessed at.
		raw.Banks = append(raw.Banks, rb)
	}

	for o := 1; o <= t.cfg.OutletCount; o++ {
		idx := "." + strconv.Itoa(o)
		ro := decode.RawOutlet{
			Number: o,
			On:     intOf(vals[normalizeOID(oidOutletStatus+idx)]) == 1,
			Name:   stringOf(vals[normalizeOID(oidOutletName+idx)]),
		}
		if v, ok := vals[normalizeOID(oidOutletCurrent+idx)]; ok {
			i := intOf(v)
			ro.CurrentRaw = &i
		}
		if v, ok := vals[normalizeOID(oidOutletPower+idx)]; ok {
			i := intOf(v)
			ro.PowerRaw = &i
		}
		if v, ok := vals[normalizeOID(oidOutletEnergy+idx)]; ok {
			i := intOf(v)
			ro.EnergyRaw = &i
		}
		raw.Outlets = append(raw.Outlets, ro)
	}

	if t.cfg.HasATS {
		raw.ATS = &decode.RawATS{
			PreferredSource: decode.ATSSourceFromRaw(intOf(vals[normalizeOID(oidATSPreferredSource)])),
			CurrentSource:   decode.ATSSourceFromRaw(intOf(vals[normalizeOID(oidATSCurrentSource)])),
			AutoTransfer:    intOf(vals[normalizeOID(oidATSAutoTransfer)]) == 1,
			Redundancy:      redundancyFromSources(vals),
			A: decode.RawATSSource{
				VoltageRaw:   intOf(vals[normalizeOID(oidATSVoltageA)]),
				FrequencyRaw: intOf(vals[normalizeOID(oidATSFrequencyA)]),
				Status:       decode.VoltageStatusFromRaw(intOf(vals[normalizeOID(oidATSVoltageStatusA)])),
			},
			B: decode.RawATSSource{
				VoltageRaw:   intOf(vals[normalizeOID(oidATSVoltageB)]),
				FrequencyRaw: intOf(vals[normalizeOID(oidATSFrequencyB)]),
				Status:       decode.VoltageStatusFromRaw(intOf(vals[normalizeOID(oidATSVoltageStatusB)])),
			},
		}
	}

	if t.cfg.HasEnvironment {
		env := &decode.RawEnvironment{}
		if v, ok := vals[normalizeOID(oidEnvTemperature)]; ok {
			i := intOf(v)
			env.TemperatureRaw = &i
		}
		if v, ok := vals[normalizeOID(oidEnvHumidity)]; ok {
			i := intOf(v)
			env.HumidityRaw = &i
		}
		raw.Environment = env
	}

	return raw
}

func redundancyFromSources(vals map[string]gosnmp.SnmpPDU) domain.RedundancyStatus {
	if intOf(vals[normalizeOID(oidATSRedundancy)]) == 1 {
		return domain.RedundancyOK
	}
	return domain.RedundancyLost
}

// SetOutlet issues an SNMP SET encoding action per the ePDU2 outlet
// command OID: 1=on, 2=off, 3=reboot/cycle, 4=delayOn, 5=delayOff, 6=cancel.
func (t *SNMPTransport) SetOutlet(ctx context.Context, outlet int, action domain.OutletAction) error {
	if err := t.connect(); err != nil {
		return classify(err)
	}

	code, ok := outletActionCodes[action]
	if !ok {
		return &Error{Kind: KindParse, Message: fmt.Sprintf("unsupported outlet action %q", action)}
	}

	community := t.cfg.ReadCommunity
	if t.cfg.WriteCommunity != "" {
		community = t.cfg.WriteCommunity
	}
	prevCommunity := t.client.Community
	t.client.Community = community
	defer func() { t.client.Community = prevCommunity }()

	oid := oidOutletStatus + "." + strconv.Itoa(outlet)
	pdu := gosnmp.SnmpPDU{Name: oid, Type: gosnmp.Integer, Value: code}
	resp, err := t.client.Set([]gosnmp.SnmpPDU{pdu})
	if err != nil {
		return classify(err)
	}
	if resp.Error != gosnmp.NoError {
		return &Error{Kind: KindRefused, Message: fmt.Sprintf("snmp set rejected: %v", resp.Error)}
	}
	return nil
}

var outletActionCodes = map[domain.OutletAction]int{
	domain.ActionOn:       1,
	domain.ActionOff:      2,
	domain.ActionReboot:   3,
	domain.ActionDelayOn:  4,
	domain.ActionDelayOff: 5,
	domain.ActionCancel:   6,
}

func valuesByOID(vars []gosnmp.SnmpPDU) map[string]gosnmp.SnmpPDU {
	m := make(map[string]gosnmp.SnmpPDU, len(vars))
	for _, v := range vars {
		m[normalizeOID(v.Name)] = v
	}
	return m
}

func normalizeOID(oid string) string {
	return strings.TrimPrefix(oid, ".")
}

func stringOf(v gosnmp.SnmpPDU) string {
	if b, ok := v.Value.([]byte); ok {
		return string(b)
	}
	if s, ok := v.Value.(string); ok {
		return s
	}
	return ""
}

func intOf(v gosnmp.SnmpPDU) int64 {
	return gosnmp.ToBigInt(v.Value).Int64()
}
