package trios

// Command is a TriOS command byte carried in a host command frame.
type Command byte

// Command bytes understood by G1 instruments.
const (
	// CmdQuery requests a module information packet from the addressed
	// device. Sent to the main module it discovers the device; IPS boxes
	// relay it to their channel submodules.
	CmdQuery Command = 0xB0

	// CmdSetParam writes a device parameter. Param1 selects the parameter
	// (see the Param* constants), param2 carries the value.
	CmdSetParam Command = 0x78

	// CmdMeasure controls measurement: param2 0x81 starts a single
	// measurement, 0x82 stops a running one.
	CmdMeasure Command = 0xA8

	// CmdReadROM requests the MicroFlu ROM configuration block.
	CmdReadROM Command = 0xC0

	// CmdSleep puts the device into deep sleep.
	CmdSleep Command = 0xA0

	// CmdSetBaud reconfigures the device baud rate (param1 0x01, param2
	// the rate code).
	CmdSetBaud Command = 0x50
)

// Parameter identifiers for CmdSetParam. Codes are interpreted per
// instrument family, so a spectrometer code may reuse a MicroFlu value.
const (
	// ParamIntAvg sets the MicroFlu internal averaging count.
	ParamIntAvg byte = 0x04

	// ParamIntegrationTime sets the spectrometer integration time index
	// (0 = auto ranging, n = 2^(n+1) milliseconds).
	ParamIntegrationTime byte = 0x05

	// ParamAutoAmp toggles MicroFlu automatic gain ranging.
	ParamAutoAmp byte = 0x06

	// ParamLowAmp selects the MicroFlu low amplification range.
	ParamLowAmp byte = 0x05

	// ParamContinuous toggles MicroFlu continuous sampling.
	ParamContinuous byte = 0x0F

	// ParamContMode selects the SAM continuous measurement mode
	// (value 0x02 off, 0x03 on).
	ParamContMode byte = 0xF0
)

// CmdMeasure parameter values.
const (
	MeasureStart byte = 0x81
	MeasureStop  byte = 0x82
)
