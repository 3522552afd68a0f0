package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/chaz8081/glancectl/internal/gradient"
)

// ForecastSamples is the number of hourly samples a forecast carries.
const ForecastSamples = gradient.Hours

// ForecastSlot is the scene slot the firmware reserves for forecasts.
const ForecastSlot = 1

// DefaultForecastTemplate renders a thermometer glyph, the current value
// and "°C".
var DefaultForecastTemplate = []byte{194, GlyphThermometer, 8, 194, GlyphDegree, 'C'}

// Forecast is a 24-sample ring gradient.
type Forecast struct {
	Samples  []float64
	MinValue float64
	MaxValue float64
	MinColor RGB
	MaxColor RGB

	// Start is the time of the first sample; zero means now.
	Start time.Time
	// Template overrides DefaultForecastTemplate.
	Template []byte
	Priority string
}

// EncodeForecast builds [7, priority, 24, slot] followed by the
// ForecastScene message. Each sample is packed as an int16 LE value and as
// a color interpolated between MinColor and MaxColor.
func EncodeForecast(f Forecast) (Frame, error) {
	if len(f.Samples) != ForecastSamples {
		return Frame{}, &Error{Kind: KindValidation, Code: ErrSampleCountMismatch.Code,
			Field: "samples", Value: len(f.Samples), Msg: fmt.Sprintf("need exactly %d", ForecastSamples)}
	}
	if err := checkForecastValue("min_value", f.MinValue); err != nil {
		return Frame{}, err
	}
	if err := checkForecastValue("max_value", f.MaxValue); err != nil {
		return Frame{}, err
	}

	values := make([]byte, 0, 2*ForecastSamples)
	for i, s := range f.Samples {
		if err := checkForecastValue(fmt.Sprintf("samples[%d]", i), s); err != nil {
			return Frame{}, err
		}
		values = binary.LittleEndian.AppendUint16(values, uint16(int16(math.Round(s))))
	}

	colors := make([]byte, 0, 3*ForecastSamples)
	for _, c := range gradient.Ramp(f.Samples, f.MinValue, f.MaxValue, f.MinColor, f.MaxColor) {
		colors = append(colors, c.R, c.G, c.B)
	}

	prio, err := Priority(f.Priority)
	if err != nil {
		return Frame{}, err
	}
	start := f.Start
	if start.IsZero() {
		start = time.Now()
	}
	template := f.Template
	if len(template) == 0 {
		template = DefaultForecastTemplate
	}

	msg := &message{}
	msg.uint(1, uint64(start.Unix()))
	msg.sint(2, int64(math.Round(f.MaxValue)))
	msg.sint(3, int64(math.Round(f.MinValue)))
	msg.uint(4, uint64(f.MaxColor.Uint32()))
	msg.uint(5, uint64(f.MinColor.Uint32()))
	msg.bytes(6, values)
	msg.bytes(7, template)
	msg.bytes(8, colors)

	data := append(header(OpForecast, prio, ForecastSamples, ForecastSlot), msg.buf...)
	return newWriteFrame(KindForecastWrite, data), nil
}

func checkForecastValue(field string, v float64) error {
	if math.IsNaN(v) || v < math.MinInt16 || v > math.MaxInt16 {
		return outOfRange(field, v, math.MinInt16, math.MaxInt16)
	}
	return nil
}
