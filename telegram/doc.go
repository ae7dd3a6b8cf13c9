// Package telegram implements the UART-style asynchronous character framing
// used over the water-meter CLK/DATA link: start bit, 7 LSB-first data
// bits, even parity, and one or two stop bits. It is a pure, allocation-light
// codec with no knowledge of GPIO, timing, or concurrency.
package telegram
