// Package link provides an in-process, goroutine-safe simulation of the
// water-meter CLK/DATA wire pair. Each side of the simulated wire
// implements periph.io/x/conn/v3/gpio's pin interfaces, the same interfaces
// a real GPIO backend (periph.io/x/host/v3's sysfs or gpioioctl packages)
// would satisfy, so the mtu and meter packages never need to know whether
// they are driving real hardware or this simulation.
package link
