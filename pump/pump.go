// Package pump implements Pump Coupling (spec.md §4.B): wraps a Hardware
// Driver so that energising any non-pump zone also energises the
// designated pump zone, and de-energising a non-pump zone de-energises the
// pump once no other non-pump zone remains active.
package pump

import (
	"sync"

	"github.com/watermeister/wmcore/hardware"
	"github.com/watermeister/wmcore/zone"
)

// Coupler wraps a hardware.Driver and applies the pump-coupling rule. It
// implements hardware.Driver itself, so the rest of the core (the
// registry, specifically) can treat it as an ordinary driver and never
// has to special-case the pump.
type Coupler struct {
	driver hardware.Driver
	pumpID zone.ID // 0 means "no pump designated"

	mu     sync.Mutex
	active map[zone.ID]bool // non-pump zones currently energised
}

// New wraps driver with pump coupling for pumpID. pumpID == 0 means no
// pump is designated, in which case Coupler is a pass-through.
func New(driver hardware.Driver, pumpID zone.ID) *Coupler {
	return &Coupler{
		driver: driver,
		pumpID: pumpID,
		active: make(map[zone.ID]bool),
	}
}

func (c *Coupler) Initialise() error { return c.driver.Initialise() }

func (c *Coupler) Read(id zone.ID) (bool, error) { return c.driver.Read(id) }

// Set energises or de-energises id, applying pump coupling unless id is
// itself the pump zone (direct pump control bypasses coupling, per
// spec.md §4.B: "Energising/de-energising the pump zone directly is
// permitted but normally done only through this coupling").
func (c *Coupler) Set(id zone.ID, on bool) error {
	if c.pumpID == 0 || id == c.pumpID {
		return c.driver.Set(id, on)
	}

	if err := c.driver.Set(id, on); err != nil {
		return err
	}

	c.mu.Lock()
	if on {
		c.active[id] = true
	} else {
		delete(c.active, id)
	}
	anyActive := len(c.active) > 0
	c.mu.Unlock()

	if on {
		// Energising any non-pump zone also energises the pump,
		// idempotently, even if it was already on.
		return c.driver.Set(c.pumpID, true)
	}

	if !anyActive {
		return c.driver.Set(c.pumpID, false)
	}
	return nil
}

// ReleaseAll de-energises every output, including the pump, and clears
// the coupler's bookkeeping of which non-pump zones are active.
func (c *Coupler) ReleaseAll() error {
	c.mu.Lock()
	c.active = make(map[zone.ID]bool)
	c.mu.Unlock()
	return c.driver.ReleaseAll()
}

// AnyNonPumpActive reports whether any non-pump zone is currently tracked
// as energised, for diagnostics and tests.
func (c *Coupler) AnyNonPumpActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active) > 0
}
