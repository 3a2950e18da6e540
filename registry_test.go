package labbench_test

import (
	"errors"
	"testing"
	"time"

	"github.com/gotmc/labbench"
	"github.com/gotmc/labbench/lib/simdev"
	"github.com/matryer/is"
)

func bench() (*simdev.Manager, []*simdev.Device) {
	devs := []*simdev.Device{
		simdev.NewIdentified("TCPIP0::192.168.0.10::inst0::INSTR", "RIGOL TECHNOLOGIES", "DS4024", "DS4A1", "00.02.03"),
		simdev.NewIdentified("GPIB0::24::INSTR", "KEITHLEY INSTRUMENTS INC.", "MODEL 2410", "4096612", "C33"),
		simdev.New("ASRL13::INSTR"),
		simdev.NewIdentified("ASRL14::INSTR", "Arduino", "Carac_test", "0", "V1.31"),
		simdev.NewIdentified("GPIB0::25::INSTR", "KEITHLEY INSTRUMENTS INC.", "MODEL 2410", "4096613", "C33"),
	}
	return simdev.NewManager(devs...), devs
}

func TestRefresh(t *testing.T) {
	is := is.New(t)
	rm, devs := bench()
	var slept []time.Duration
	r := labbench.NewRegistry(rm,
		labbench.WithSettleDelay(2*time.Second),
		labbench.WithSleep(func(d time.Duration) { slept = append(slept, d) }))

	is.NoErr(r.Refresh(""))
	is.Equal(r.Len(), 4)

	// the surge controller does not identify itself
	is.True(devs[2].Closed())
	// serial resources settle before identification
	is.Equal(slept, []time.Duration{2 * time.Second, 2 * time.Second})

	var names []string
	for _, e := range r.Entries() {
		names = append(names, e.Identity.Name)
	}
	is.Equal(names, []string{"DS4024", "MODEL 2410", "Carac_test", "MODEL 2410"})
}

func TestRefreshDeduplicates(t *testing.T) {
	is := is.New(t)
	rm, _ := bench()
	r := labbench.NewRegistry(rm, labbench.WithSettleDelay(0))

	is.NoErr(r.Refresh(""))
	is.NoErr(r.Refresh(""))
	is.Equal(r.Len(), 4)
	is.Equal(rm.Opens("GPIB0::24::INSTR"), 1)
	// unidentified resources are probed again
	is.Equal(rm.Opens("ASRL13::INSTR"), 2)
}

func TestRefreshFilter(t *testing.T) {
	is := is.New(t)
	rm, _ := bench()
	r := labbench.NewRegistry(rm, labbench.WithSettleDelay(0), labbench.WithFilter("GPIB?*::INSTR"))

	is.NoErr(r.Refresh(""))
	is.Equal(r.Len(), 2)
	is.NoErr(r.Refresh("TCPIP?*"))
	is.Equal(r.Len(), 3)
}

func TestRefreshDropsUnplugged(t *testing.T) {
	is := is.New(t)
	rm, devs := bench()
	r := labbench.NewRegistry(rm, labbench.WithSettleDelay(0))
	is.NoErr(r.Refresh(""))

	rm.Unplug("GPIB0::24::INSTR")
	// handles held by callers fail on their next query, nothing else happens
	_, err := devs[1].Query("*IDN?")
	is.True(errors.Is(err, labbench.ErrCommunication))
	is.Equal(r.Len(), 4)

	is.NoErr(r.Refresh(""))
	is.Equal(r.Len(), 3)
	is.True(devs[1].Closed())
	es := r.ResolveByName("MODEL 2410")
	is.Equal(len(es), 1)
	is.Equal(es[0].Resource, "GPIB0::25::INSTR")
}

func TestRevalidate(t *testing.T) {
	is := is.New(t)
	rm, devs := bench()
	r := labbench.NewRegistry(rm, labbench.WithSettleDelay(0))
	is.NoErr(r.Refresh(""))

	devs[3].Unplug(nil)
	r.Revalidate()
	is.Equal(len(r.ResolveByName("Carac_test")), 0)
	is.Equal(r.Len(), 3)
}

func TestRefreshListFailure(t *testing.T) {
	is := is.New(t)
	rm, _ := bench()
	boom := errors.New("no VISA library")
	rm.FailList(boom)
	r := labbench.NewRegistry(rm)
	is.True(errors.Is(r.Refresh(""), boom))
	is.Equal(r.Len(), 0)
}

func TestResolveByName(t *testing.T) {
	is := is.New(t)
	rm, _ := bench()
	r := labbench.NewRegistry(rm, labbench.WithSettleDelay(0))
	is.NoErr(r.Refresh(""))

	es := r.ResolveByName("MODEL 2410")
	is.Equal(len(es), 2)
	is.Equal(es[0].Resource, "GPIB0::24::INSTR")
	is.Equal(es[1].Resource, "GPIB0::25::INSTR")
	is.Equal(es[1].Identity.Serial, "4096613")

	none := r.ResolveByName("DG4062")
	is.True(none != nil)
	is.Equal(len(none), 0)
}

func TestOpenRawAndClose(t *testing.T) {
	is := is.New(t)
	rm, devs := bench()
	r := labbench.NewRegistry(rm, labbench.WithSettleDelay(0))
	is.NoErr(r.Refresh(""))

	h, err := r.OpenRaw("ASRL13::INSTR")
	is.NoErr(err)
	is.Equal(h.Resource(), "ASRL13::INSTR")
	is.Equal(r.Len(), 4)

	_, err = r.OpenRaw("ASRL99::INSTR")
	is.True(err != nil)

	is.NoErr(r.Close())
	is.Equal(r.Len(), 0)
	is.True(devs[0].Closed())
	is.True(devs[4].Closed())
	// the raw handle belongs to the caller
	is.True(!devs[2].Closed())
}
