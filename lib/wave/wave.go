// Package wave turns raw oscilloscope samples into calibrated series.
package wave

// Calibration holds the per-channel scalars needed to convert a raw sample
// byte into a physical value.
type Calibration struct {
	YIncrement float64 // units per LSB
	YReference float64 // raw value of the vertical reference
	YOrigin    float64 // vertical offset, in units
	Inverted   bool
	// CustomScale converts the result, e.g. 1/R to read a shunt voltage as a
	// current. Zero is treated as 1.
	CustomScale float64
}

func (c Calibration) sign() float64 {
	if c.Inverted {
		return -1
	}
	return 1
}

func (c Calibration) custom() float64 {
	if c.CustomScale == 0 {
		return 1
	}
	return c.CustomScale
}

// Value decodes one raw sample:
//
//	(inv*(raw - YReference)*YIncrement - YOrigin) * CustomScale
func (c Calibration) Value(raw byte) float64 {
	return (c.sign()*(float64(raw)-c.YReference)*c.YIncrement - c.YOrigin) * c.custom()
}

// Raw inverts Value. The result is not rounded.
func (c Calibration) Raw(v float64) float64 {
	return c.sign()*((v/c.custom())+c.YOrigin)/c.YIncrement + c.YReference
}

// Scale decodes a whole record.
func (c Calibration) Scale(raw []byte) []float64 {
	out := make([]float64, len(raw))
	for i, d := range raw {
		out[i] = c.Value(d)
	}
	return out
}

// Timebase places samples on the time axis. Time zero sits at mid record,
// shifted by Offset.
type Timebase struct {
	XIncrement float64 // seconds per sample
	Offset     float64 // timebase offset, seconds
}

// At returns the time of sample i in a record of n samples:
//
//	(i - n/2)*XIncrement + Offset
func (tb Timebase) At(i, n int) float64 {
	return (float64(i)-float64(n)/2)*tb.XIncrement + tb.Offset
}

// Axis returns the n sample times.
func (tb Timebase) Axis(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = tb.At(i, n)
	}
	return out
}

// Series is a decoded waveform. Time and Value have the same length.
type Series struct {
	Time  []float64
	Value []float64
}

// Decode builds a series from a raw record.
func Decode(raw []byte, cal Calibration, tb Timebase) Series {
	return Series{Time: tb.Axis(len(raw)), Value: cal.Scale(raw)}
}

// Len returns the number of samples.
func (s Series) Len() int { return min(len(s.Time), len(s.Value)) }

// Empty reports whether the series holds no sample. A failed fetch yields an
// empty series.
func (s Series) Empty() bool { return s.Len() == 0 }

// Truncate cuts every series to the length of the shortest one. Elements are
// neither copied nor reordered; the results alias the inputs.
func Truncate(series ...[]float64) [][]float64 {
	if len(series) == 0 {
		return nil
	}
	n := len(series[0])
	for _, s := range series[1:] {
		n = min(n, len(s))
	}
	out := make([][]float64, len(series))
	for i, s := range series {
		out[i] = s[:n:n]
	}
	return out
}

// Max returns the largest value and its index, or -1 for an empty slice.
func Max(v []float64) (float64, int) {
	if len(v) == 0 {
		return 0, -1
	}
	m, at := v[0], 0
	for i, x := range v[1:] {
		if x > m {
			m, at = x, i+1
		}
	}
	return m, at
}
