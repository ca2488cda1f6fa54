//go:build rp2040 || rp2350

package main

import (
	"machine"

	"tinygo.org/x/drivers/mcp3008"

	"godaq/core"
)

// mcpADC adapts the MCP3008 SPI front end to the core's ADC interface.
// The external converter is what gives the pipeline its five single-ended
// channels; the chip's internal ADC only exposes four.
type mcpADC struct {
	dev mcp3008.Device
}

func newMCPADC() (*mcpADC, error) {
	err := machine.SPI0.Configure(machine.SPIConfig{
		Frequency: adcSPIFreqHz,
		SCK:       adcSCKPin,
		SDO:       adcSDOPin,
		SDI:       adcSDIPin,
		Mode:      0,
	})
	if err != nil {
		return nil, err
	}
	return &mcpADC{dev: mcp3008.New(machine.SPI0, adcCSPin)}, nil
}

func (a *mcpADC) Configure() error {
	return a.dev.Configure()
}

func (a *mcpADC) Read(ch int) (uint16, error) {
	return a.dev.Read(ch)
}

var _ core.ADCDriver = (*mcpADC)(nil)
