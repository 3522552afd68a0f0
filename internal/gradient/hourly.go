package gradient

import (
	"errors"
	"time"
)

// Hours is the number of samples in a forecast.
const Hours = 24

// placeholderTemp fills hours the weather source did not report.
const placeholderTemp = 20

// HourlySample is one entry of an hourly weather forecast. Temperature is nil
// when the source had no value for that hour.
type HourlySample struct {
	Time        time.Time
	Temperature *float64
}

// Series is a forecast normalized to exactly Hours samples.
type Series struct {
	Values []float64
	// Low and High are the extremes of Values.
	Low, High float64
	// RangeLow and RangeHigh are the extremes of the reported forecast and
	// current temperature, defaulting to 0 and 30 when nothing was reported.
	RangeLow, RangeHigh float64
}

// ErrNoForecast is returned when there is nothing to normalize.
var ErrNoForecast = errors.New("gradient: no forecast data")

// FromHourly builds a 24-hour series starting at the current hour. The
// current temperature, when known, becomes the first sample and is followed
// by 23 forecast hours. Short forecasts are padded with their last value.
func FromHourly(current *float64, hourly []HourlySample, now time.Time) (Series, error) {
	if len(hourly) == 0 {
		return Series{}, ErrNoForecast
	}

	start := 0
	hour := hourStart(now, now.Location())
	for i, h := range hourly {
		if h.Time.IsZero() {
			continue
		}
		if !hourStart(h.Time, now.Location()).Before(hour) {
			start = i
			break
		}
	}

	window := hourly[start:]
	if len(window) > Hours-1 {
		window = window[:Hours-1]
	}

	var (
		forecast []float64
		lo, hi   *float64
	)
	track := func(v float64) {
		if lo == nil || v < *lo {
			lo = &v
		}
		if hi == nil || v > *hi {
			hi = &v
		}
	}
	for _, h := range window {
		if h.Temperature == nil {
			forecast = append(forecast, placeholderTemp)
			continue
		}
		v := float64(int(*h.Temperature))
		forecast = append(forecast, v)
		track(v)
	}

	values := make([]float64, 0, Hours)
	switch {
	case current != nil:
		v := float64(int(*current))
		values = append(values, v)
		track(v)
	case len(forecast) > 0:
		values = append(values, forecast[0])
	default:
		values = append(values, placeholderTemp)
	}
	values = append(values, forecast...)
	for len(values) < Hours {
		values = append(values, values[len(values)-1])
	}
	values = values[:Hours]

	s := Series{Values: values, Low: values[0], High: values[0], RangeLow: 0, RangeHigh: 30}
	for _, v := range values {
		s.Low = min(s.Low, v)
		s.High = max(s.High, v)
	}
	if lo != nil {
		s.RangeLow = *lo
	}
	if hi != nil {
		s.RangeHigh = *hi
	}
	return s, nil
}

func hourStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
}
