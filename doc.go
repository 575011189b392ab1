// Copyright 2025 by the ttrack authors, see LICENSE file

// Package radio contains the radio control subsystem of a battery powered
// sub-GHz asset tracker: an S2LP transceiver driver, a DMA-style transmit
// streamer, and the control sequences that the tracker's command interface
// invokes on them. It uses periph.io for the low level access to the SPI bus
// and gpio pins. Each driver is in its own directory and is stand-alone.
// Simple commands to exercise the radio can be found in the cmd directory.
package radio
