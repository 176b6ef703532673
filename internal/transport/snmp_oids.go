package transport

// CyberPower ePDU MIB roots. The bulk of per-cycle metrics live under
// the ePDU2 (dual-input / ATS-capable) branch; single-input models
// answer a subset and leave the rest unavailable (NoSuchInstance).
// Unavailable outlet metering and environment values are left unset;
// unavailable input, bank and ATS values read as zero.
const (
	oidSysDescr   = ".1.3.6.1.2.1.1.1.0"
	oidSysUpTime  = ".1.3.6.1.2.1.1.3.0"
	oidSysName    = ".1.3.6.1.2.1.1.5.0"

	oidEPDURoot = ".1.3.6.1.4.1.3808.1.1.3"
	oidATSRoot  = ".1.3.6.1.4.1.3808.1.1.6.9.4.1"

	// Identity
	oidModel        = oidEPDURoot + ".1.1.1.0"
	oidSerial       = oidEPDURoot + ".1.1.3.0"
	oidFirmware     = oidEPDURoot + ".1.1.2.0"
	oidOutletCount  = oidEPDURoot + ".3.1.1.0"
	oidPhaseCount   = oidEPDURoot + ".2.1.1.0"

	// Input / bank 1 (single-phase models report everything on bank 1)
	oidInputVoltage   = oidEPDURoot + ".2.1.2.1.1"
	oidInputFrequency = oidEPDURoot + ".2.1.2.1.3"

	oidBankCurrent     = oidEPDURoot + ".2.3.1.1.3"
	oidBankPower       = oidEPDURoot + ".2.3.1.1.4"
	oidBankApparent    = oidEPDURoot + ".2.3.1.1.5"
	oidBankPF          = oidEPDURoot + ".2.3.1.1.6"
	oidBankLoadState   = oidEPDURoot + ".2.3.1.1.2"

	// Outlet table (indexed by outlet number, appended by caller)
	oidOutletStatus  = oidEPDURoot + ".3.3.1.1.4"
	oidOutletCurrent = oidEPDURoot + ".3.3.1.1.5"
	oidOutletPower   = oidEPDURoot + ".3.3.1.1.6"
	oidOutletEnergy  = oidEPDURoot + ".3.3.1.1.7"
	oidOutletName    = oidEPDURoot + ".3.3.1.1.2"

	// Cold start
	oidColdStartDelay = oidEPDURoot + ".3.1.3.0"
	oidColdStartState = oidEPDURoot + ".3.1.4.0"

	// ATS block
	oidATSPreferredSource = oidATSRoot + ".1.0"
	oidATSCurrentSource   = oidATSRoot + ".2.0"
	oidATSAutoTransfer    = oidATSRoot + ".3.0"
	oidATSRedundancy      = oidATSRoot + ".4.0"
	oidATSVoltageA        = oidATSRoot + ".5.1"
	oidATSFrequencyA      = oidATSRoot + ".6.1"
	oidATSVoltageB        = oidATSRoot + ".5.2"
	oidATSFrequencyB      = oidATSRoot + ".6.2"
	oidATSVoltageStatusA  = oidATSRoot + ".7.1"
	oidATSVoltageStatusB  = oidATSRoot + ".7.2"

	// Environment (optional monitor)
	oidEnvTemperature = oidEPDURoot + ".4.1.1.0"
	oidEnvHumidity    = oidEPDURoot + ".4.1.2.0"
	oidEnvContact     = oidEPDURoot + ".4.2.1.1.3" // indexed by contact number
)
